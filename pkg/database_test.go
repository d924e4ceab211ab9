package cscraw

import (
	"errors"
	"path/filepath"
	"testing"

	sqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := ConnectToDatabase("sqlite", "", "", "", filepath.Join(t.TempDir(), "conditions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createGeometryTable(t *testing.T, db *sqlx.DB) {
	t.Helper()
	db.MustExec(`CREATE TABLE ChamberGeometry (
		MinRun INTEGER, MaxRun INTEGER,
		Station INTEGER, Ring INTEGER,
		Chambers INTEGER, WireGroups INTEGER, Strips INTEGER,
		HasGEM BOOLEAN
	)`)
}

func TestLoadGeometry(t *testing.T) {
	db := openTestDB(t)
	createGeometryTable(t, db)
	db.MustExec(`INSERT INTO ChamberGeometry VALUES
		(0, 999999, 2, 1, 18, 112, 80, 0),
		(0, 999999, 3, 1, 18, 96, 80, 1),
		(0, 100, 4, 2, 10, 10, 10, 0)`)

	geometry, err := LoadGeometry(db, 316000, nil, 3)
	require.NoError(t, err)

	assert.False(t, geometry.GEMRings[StationRing{2, 1}])
	assert.True(t, geometry.GEMRings[StationRing{3, 1}])
	assert.True(t, geometry.GEMRings[StationRing{1, 1}])
	// Rows outside the run range are ignored.
	spec, ok := geometry.Spec(NewChamberID(1, 4, 2, 1))
	require.True(t, ok)
	assert.Equal(t, 36, spec.Chambers)

	gem := GEMPadClusterDigi{ID: NewChamberID(1, 3, 1, 2), Pads: []int{1}}
	assert.NoError(t, geometry.ValidateDigi(gem))
	gem.ID = NewChamberID(1, 2, 1, 2)
	assert.ErrorIs(t, geometry.ValidateDigi(gem), ErrGeometry)
}

func TestLoadGeometryOverridesLayout(t *testing.T) {
	db := openTestDB(t)
	createGeometryTable(t, db)
	db.MustExec(`INSERT INTO ChamberGeometry VALUES (0, 999999, 2, 2, 36, 32, 64, 0)`)

	geometry, err := LoadGeometry(db, 1, nil, 0)
	require.NoError(t, err)
	spec, _ := geometry.Spec(NewChamberID(1, 2, 2, 1))
	assert.Equal(t, ChamberSpec{Chambers: 36, WireGroups: 32, Strips: 64}, spec)

	wire := WireDigi{ID: NewLayerID(1, 2, 2, 1, 1), WireGroup: 40, BX: 7}
	assert.ErrorIs(t, geometry.ValidateDigi(wire), ErrGeometry)
	assert.NoError(t, DefaultGeometry().ValidateDigi(wire))
}

func TestLoadGeometryEmptyLayout(t *testing.T) {
	db := openTestDB(t)
	createGeometryTable(t, db)
	db.MustExec(`INSERT INTO ChamberGeometry VALUES (0, 999999, 2, 2, 0, 32, 64, 0)`)

	_, err := LoadGeometry(db, 1, nil, 0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadGeometryMissingTable(t *testing.T) {
	_, err := LoadGeometry(openTestDB(t), 1, nil, 0)
	assert.Error(t, err)
}

func TestConnectUnknownDriver(t *testing.T) {
	_, err := ConnectToDatabase("postgres", "", "", "", "")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSQLReportSink(t *testing.T) {
	db := openTestDB(t)
	run := NewRunInfo(316000)
	sink, err := NewSQLReportSink(db, run)
	require.NoError(t, err)

	truth, candidate := wires(7), wires(8)
	report := comparatorWith(KindWire, BXWindow{}).Compare(&truth, &candidate)
	results := []*EventResult{
		{EventID: 1, Status: StatusOK, Record: RawEventRecord(make([]byte, 52)), NumTruth: 1, NumReadout: 1, NumDecoded: 1, Report: NewReport()},
		{EventID: 2, Status: StatusMismatch, NumTruth: 1, NumReadout: 1, NumDecoded: 1, Report: report},
		{EventID: 3, Status: StatusPackRejected, Err: errors.New("event 3 rejected")},
	}
	for _, result := range results {
		require.NoError(t, sink.WriteResult(result))
	}

	n, err := sink.EventRows()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var mismatches []mismatchRow
	require.NoError(t, db.Select(&mismatches, "SELECT * FROM Mismatches WHERE RunID = ? ORDER BY Discrepancy", run.ID.String()))
	require.Len(t, mismatches, 2)
	assert.Equal(t, "ExtraInCandidate", mismatches[0].Discrepancy)
	assert.Equal(t, "MissingInCandidate", mismatches[1].Discrepancy)
	assert.Equal(t, layer(me11_03, 2).RawID(), mismatches[1].RawID)
	assert.Equal(t, "ME+1/1/03/L2", mismatches[1].DetID)

	var rejected validationEventRow
	require.NoError(t, db.Get(&rejected, "SELECT * FROM ValidationEvents WHERE EventID = 3"))
	require.NotNil(t, rejected.Error)
	assert.Equal(t, "event 3 rejected", *rejected.Error)
	assert.Equal(t, "PackRejected", rejected.Status)

	// A second run shares the tables.
	other, err := NewSQLReportSink(db, NewRunInfo(316001))
	require.NoError(t, err)
	n, err = other.EventRows()
	require.NoError(t, err)
	assert.Zero(t, n)
}
