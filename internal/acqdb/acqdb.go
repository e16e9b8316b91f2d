// Package acqdb records acquisition sessions and throughput samples in a
// ClickHouse database. The database is strictly optional: when the server
// is unreachable every method degrades to a no-op, so the pipeline never
// depends on it.
package acqdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "livescope" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// SessionMessage is the information for the sessions table.
type SessionMessage struct {
	ID         string // session ULID
	Hostname   string
	Version    string
	SourceName string
	Channels   []int
	Start      time.Time
	End        time.Time
}

// RateMessage is one throughput sample for the rates table.
type RateMessage struct {
	SessionID string
	Time      time.Time
	Count     int64
	PerSecond float64
}

// Connection owns one ClickHouse connection and a goroutine that serializes
// all inserts behind a message channel. Sink callers and the insert
// goroutine share conn/err, so those fields sit behind a mutex.
type Connection struct {
	mu      sync.Mutex
	conn    clickhouse.Conn
	err     error
	session *SessionMessage
	ratemsg chan *RateMessage
	abort   <-chan struct{}
	sync.WaitGroup
}

// current returns the live connection, or nil once disconnected or failed.
func (db *Connection) current() clickhouse.Conn {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err != nil {
		return nil
	}
	return db.conn
}

func (db *Connection) setErr(err error) {
	db.mu.Lock()
	db.err = err
	db.mu.Unlock()
}

// IsConnected reports whether the connection is usable.
func (db *Connection) IsConnected() bool {
	return db.current() != nil
}

// PingServer checks that a ClickHouse server is reachable with the
// configured credentials.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %v", db.err)
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// Start opens the connection, records the session start, and launches the
// insert goroutine. It always returns a usable (possibly disconnected)
// Connection.
func Start(session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.session = session
	db.abort = abort
	db.logSession(session)
	go db.handleConnection(abort)
	return db
}

// Dummy returns a disconnected Connection whose methods are all no-ops.
func Dummy() *Connection {
	db := &Connection{}
	db.Add(1)
	db.Done()
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	addr := os.Getenv("LIVESCOPE_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	opt := clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("LIVESCOPE_DB_USER"),
			Password: os.Getenv("LIVESCOPE_DB_PASSWORD"),
		},
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	if err := conn.Ping(context.Background()); err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)
	db.ratemsg = make(chan *RateMessage)
	return db
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	if !db.IsConnected() {
		return
	}
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.ratemsg:
			db.handleRateMessage(rmsg)
		}
	}
}

// Disconnect records the session end and closes the connection.
func (db *Connection) Disconnect() {
	conn := db.current()
	if conn == nil {
		return
	}
	db.session.End = time.Now()
	db.logSession(db.session)
	db.mu.Lock()
	conn.Close()
	db.conn = nil
	db.mu.Unlock()
}

// RecordRate queues one throughput sample. The send happens on its own
// goroutine so the caller, a rate sink, can never block on the database;
// once the abort channel closes the send is abandoned rather than left
// waiting on a handler that has already returned.
func (db *Connection) RecordRate(msg *RateMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() {
		select {
		case db.ratemsg <- msg:
		case <-db.abort:
		}
	}()
}

func (db *Connection) logSession(m *SessionMessage) {
	conn := db.current()
	if conn == nil || m == nil {
		return
	}
	const nowait = false
	if err := conn.AsyncInsert(context.Background(),
		`INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.Hostname, m.Version, m.SourceName, m.Channels,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.setErr(err)
	}
}

func (db *Connection) handleRateMessage(m *RateMessage) {
	conn := db.current()
	if conn == nil || m == nil {
		return
	}
	const nowait = true
	if err := conn.AsyncInsert(context.Background(),
		`INSERT INTO rates VALUES (?, ?, ?, ?)`, nowait,
		m.SessionID, m.Time.Format(timeFormat), m.Count, m.PerSecond,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into rates ", err)
		db.setErr(err)
	}
}
