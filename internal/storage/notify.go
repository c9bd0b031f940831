package storage

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

// Listen subscribes the dedicated notify connection to channel. The
// subscription is remembered and restored when the connection is replaced.
func (db *DB) Listen(ctx context.Context, channel string) error {
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	if db.notifyDSN == "" {
		return fmt.Errorf("storage: notify connection not configured")
	}
	conn, err := db.notifyConnLocked(ctx)
	if err != nil {
		return err
	}
	if err := listen(ctx, conn, channel); err != nil {
		return err
	}
	if !slices.Contains(db.kanaler, channel) {
		db.kanaler = append(db.kanaler, channel)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on a subscribed
// channel. A broken connection is dropped and the next call reconnects and
// resubscribes; notifications sent while disconnected are lost.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	db.notifyMu.Lock()
	if db.notifyDSN == "" {
		db.notifyMu.Unlock()
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	conn, err := db.notifyConnLocked(ctx)
	db.notifyMu.Unlock()
	if err != nil {
		return "", "", err
	}

	// The mutex is not held while waiting; only the listener goroutine waits
	// and Close runs after it has stopped.
	n, err := conn.WaitForNotification(ctx)
	if err != nil {
		if ctx.Err() == nil && conn.IsClosed() {
			db.dropNotifyConn(conn)
		}
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return n.Channel, n.Payload, nil
}

// Notify sends a notification on the specified channel. The bus publisher
// calls it for every message leaving the outbox.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// notifyConnLocked returns the live notify connection, reconnecting and
// resubscribing when there is none. db.notifyMu must be held.
func (db *DB) notifyConnLocked(ctx context.Context) (*pgx.Conn, error) {
	if db.notifyConn != nil && !db.notifyConn.IsClosed() {
		return db.notifyConn, nil
	}
	conn, err := pgx.Connect(ctx, db.notifyDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: reconnect notify: %w", err)
	}
	for _, ch := range db.kanaler {
		if err := listen(ctx, conn, ch); err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
	}
	if len(db.kanaler) > 0 {
		db.logger.Warn("storage: notify connection replaced", "channels", db.kanaler)
	}
	db.notifyConn = conn
	return conn, nil
}

func (db *DB) dropNotifyConn(conn *pgx.Conn) {
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	if db.notifyConn == conn {
		db.notifyConn = nil
	}
}

func listen(ctx context.Context, conn *pgx.Conn, channel string) error {
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}
