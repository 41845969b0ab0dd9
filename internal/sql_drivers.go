package internal

import (
	// Blank imports register the database drivers used by the SQL event-bus
	// driver and the river queue DSNs.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
