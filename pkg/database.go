package cscraw

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
	_ "modernc.org/sqlite"
)

// ConnectToDatabase opens the conditions database. For the sqlite driver
// dbname is the database file and the other arguments are ignored.
func ConnectToDatabase(driver string, user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite":
		sqlx.BindDriver("sqlite", sqlx.QUESTION)
		return sqlx.Connect("sqlite", dbname)
	case "mysql", "":
		port := "3306"
		dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
		return sqlx.Connect("mysql", dbURI)
	}
	return nil, &ConfigError{Field: "db_driver", Reason: fmt.Sprintf("unknown driver %q", driver)}
}

type ChamberGeometryEntry struct {
	Station int  `db:"Station"`
	Ring    int  `db:"Ring"`
	HasGEM  bool `db:"HasGEM"`
	ChamberSpec
}

// LoadGeometry reads the chamber layout valid for runNumber. Station/ring
// pairs missing from the table keep their default layout.
func LoadGeometry(db *sqlx.DB, runNumber int, logger Logger, verbosity int) (Geometry, error) {
	logger = orNop(logger)
	query := "SELECT Station, Ring, Chambers, WireGroups, Strips, HasGEM FROM ChamberGeometry WHERE MinRun <= ? and MaxRun >= ? ORDER BY Station, Ring"

	if verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading chamber geometry for run %d from database", runNumber), "database")
	}
	if verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s", query), "database")
	}

	geometry := DefaultGeometry()
	rows, err := db.Queryx(query, runNumber, runNumber)
	if err != nil {
		return geometry, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	nRows := 0
	for rows.Next() {
		entry := ChamberGeometryEntry{}
		if err := rows.StructScan(&entry); err != nil {
			return geometry, fmt.Errorf("error scanning DB row: %w", err)
		}
		if entry.Chambers < 1 || entry.WireGroups < 1 || entry.Strips < 1 {
			return geometry, &ConfigError{Field: "ChamberGeometry", Reason: fmt.Sprintf("ME%d/%d has an empty layout", entry.Station, entry.Ring)}
		}
		key := StationRing{Station: entry.Station, Ring: entry.Ring}
		geometry.Specs[key] = entry.ChamberSpec
		if entry.HasGEM {
			geometry.GEMRings[key] = true
		} else {
			delete(geometry.GEMRings, key)
		}
		nRows++
	}
	if err := rows.Err(); err != nil {
		return geometry, fmt.Errorf("error reading DB rows: %w", err)
	}
	if verbosity > 0 {
		logger.Info(fmt.Sprintf("Chamber geometry: %d station/ring entries read", nRows), "database")
	}
	return geometry, nil
}
