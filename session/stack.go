package session

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/inkmill/chronicle/dbopen"
	"github.com/inkmill/chronicle/document"
	"github.com/inkmill/chronicle/eventstore"
	"github.com/inkmill/chronicle/replay"
	"github.com/inkmill/chronicle/snapshot"
	"github.com/inkmill/chronicle/telemetry"
)

// Stack wires the full subsystem from a Config: document store, snapshot
// manager with its force timer, replay engine, telemetry, and the window
// manager. The UI shell holds one Stack per process.
type Stack struct {
	DB          *sql.DB
	TelemetryDB *sql.DB
	Events      *eventstore.Store
	Snapshots   *snapshot.Store
	SnapMan     *snapshot.Manager
	Engine      *replay.Engine
	Sessions    *Manager
	Sink        telemetry.Sink

	cancelTimer context.CancelFunc
	sqliteSink  *telemetry.SQLiteSink
}

// OpenStack builds a Stack. The caller must blank-import an SQLite driver.
func OpenStack(cfg Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(eventstore.Schema))
	if err != nil {
		return nil, err
	}

	st := &Stack{DB: db, Sink: telemetry.Nop{}}
	if cfg.TelemetryDBPath != "" {
		tdb, err := dbopen.Open(cfg.TelemetryDBPath,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(telemetry.Schema))
		if err != nil {
			db.Close()
			return nil, err
		}
		st.TelemetryDB = tdb
		st.sqliteSink = telemetry.NewSQLiteSink(tdb, 100, 5*time.Second, logger)
		st.Sink = st.sqliteSink
	}

	st.Events = eventstore.New(db, eventstore.Options{Logger: logger})
	st.Snapshots = snapshot.NewStore(db)
	st.SnapMan = snapshot.NewManager(st.Snapshots, snapshot.Options{
		BaseInterval:   cfg.Snapshot.BaseInterval,
		MinInterval:    cfg.Snapshot.MinInterval,
		MaxInterval:    cfg.Snapshot.MaxInterval,
		RateWindow:     cfg.Snapshot.RateWindow.Std(),
		HighRate:       cfg.Snapshot.HighRate,
		HighRateFactor: cfg.Snapshot.HighRateFactor,
		LowRate:        cfg.Snapshot.LowRate,
		ForceAfter:     cfg.Snapshot.ForceAfter.Std(),
		WarnStateBytes: cfg.Snapshot.WarnStateBytes,
		MaxStateBytes:  cfg.Snapshot.MaxStateBytes,
		Keep:           cfg.Snapshot.KeepSnapshots,
		Logger:         logger,
		Sink:           st.Sink,
	})
	st.Engine = replay.New(st.Events, st.Snapshots, replay.Options{Logger: logger})
	st.Sessions = NewManager(st.Events, st.SnapMan, st.Engine, Options{
		Grouping: cfg.Grouping.toOptions(),
		Sink:     st.Sink,
		Logger:   logger,
	})

	// The force timer is document-level work: it outlives any window and
	// stops only with the stack itself.
	tctx, cancel := context.WithCancel(context.Background())
	st.cancelTimer = cancel
	go st.SnapMan.RunForceTimer(tctx, time.Minute, func(ctx context.Context, docID string) (*document.State, int64, error) {
		s, err := st.Engine.Load(ctx, docID, -1)
		if err != nil {
			return nil, -1, err
		}
		return s, s.Seq, nil
	})

	return st, nil
}

// Close tears down windows first, then background work, then stores.
func (st *Stack) Close() {
	st.Sessions.Close()
	st.cancelTimer()
	st.SnapMan.Close()
	if st.sqliteSink != nil {
		st.sqliteSink.Close()
	}
	if st.TelemetryDB != nil {
		st.TelemetryDB.Close()
	}
	st.DB.Close()
}
