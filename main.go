// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("☕ brewsync - Offline-First Drink Management")
	fmt.Println("============================================")
	fmt.Println()
	fmt.Println("brewsync keeps a coffee shop's drink list editable while the backend is down.")
	fmt.Println("Drinks are cached in SQLite, offline edits are queued per shop, and the queue")
	fmt.Println("is replayed against the REST API once the server is reachable again.")
	fmt.Println()

	fmt.Println("📦 Packages:")
	fmt.Println()
	fmt.Println("  brewsqlite/  client: connectivity monitor, drink cache, pending queue, reconciliation")
	fmt.Println("  brewsync/    server: REST handlers, memory and PostgreSQL stores, JWT auth")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Coffee-Shop API Server (examples/brewserver/)")
	fmt.Println("   REST backend for shops and drinks over PostgreSQL")
	fmt.Println("   Features: JWT auth, demo data seeding, request logging")
	fmt.Println("   Run: cd examples/brewserver && go run .")
	fmt.Println()

	fmt.Println("2. 📱 Offline Flow Simulator (examples/offline_flow/)")
	fmt.Println("   Drives a client through offline edits and reconnects against the server")
	fmt.Println("   Features: scenario registry, PostgreSQL verification, JSON reports")
	fmt.Println("   Run: cd examples/offline_flow && go run . --scenario all")
	fmt.Println()
}
