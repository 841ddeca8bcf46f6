package source

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// standbyInterval is how often StreamSource sends a standby status
// update when the server hasn't asked for one sooner via a keepalive
// with ReplyRequested set.
const standbyInterval = 10 * time.Second

// StreamSource is the streaming adapter (spec.md 4.4): it opens a
// dedicated replication connection via github.com/jackc/pglogrepl and
// exchanges explicit standby-status updates carrying the confirmed
// LSN, instead of polling on a timer like PollSource. adminPool is a
// plain connection pool used only for slot administration (checking
// existence, creating), since pg_replication_slots is not queryable
// over a replication-mode connection.
type StreamSource struct {
	adminPool      *pgxpool.Pool
	replConnString string
	slot           string
	publication    string

	mu           sync.Mutex
	conn         *pgconn.PgConn
	confirmedLSN change.LSN
	lastErr      error
}

// NewStreamSource returns a StreamSource for slot, using adminPool
// for slot administration and replConnString (which must include
// replication=database) to open the streaming connection.
func NewStreamSource(adminPool *pgxpool.Pool, replConnString, slot string) *StreamSource {
	return &StreamSource{adminPool: adminPool, replConnString: replConnString, slot: slot}
}

// EnsureSlot implements Source.
func (s *StreamSource) EnsureSlot(ctx context.Context, create bool) error {
	return ensureSlot(ctx, s.adminPool, s.slot, create)
}

// Changes implements Source, opening the replication connection and
// starting logical replication from fromLSN.
func (s *StreamSource) Changes(ctx context.Context, fromLSN change.LSN) (<-chan change.Change, error) {
	conn, err := pgconn.Connect(ctx, s.replConnString)
	if err != nil {
		return nil, errors.Wrap(err, "source: opening replication connection")
	}

	opts := pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"\"format-version\" '2'",
			"\"include-xids\" '1'",
			"\"include-transaction\" '1'",
		},
	}
	if err := pglogrepl.StartReplication(ctx, conn, s.slot, pglogrepl.LSN(fromLSN), opts); err != nil {
		conn.Close(ctx)
		return nil, classifySlotError(s.slot, fromLSN, errors.Wrap(err, "source: starting replication"))
	}

	s.mu.Lock()
	s.conn = conn
	s.confirmedLSN = fromLSN
	s.mu.Unlock()

	out := make(chan change.Change, 256)
	go s.streamLoop(ctx, conn, out)
	return out, nil
}

func (s *StreamSource) streamLoop(ctx context.Context, conn *pgconn.PgConn, out chan<- change.Change) {
	defer close(out)
	defer conn.Close(context.Background())

	deadline := time.Now().Add(standbyInterval)
	var pendingXid uint64

	for {
		if time.Now().After(deadline) {
			s.sendStandbyStatus(ctx, conn)
			deadline = time.Now().Add(standbyInterval)
		}

		recvCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.setErr(errors.Wrap(err, "source: receiving replication message"))
			return
		}

		cd, ok := msg.(*pgproto3.CopyData)
		if !ok || len(cd.Data) == 0 {
			continue
		}

		switch cd.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			ka, err := pglogrepl.ParsePrimaryKeepaliveMessage(cd.Data[1:])
			if err != nil {
				s.setErr(errors.Wrap(err, "source: parsing keepalive message"))
				return
			}
			if ka.ReplyRequested {
				s.sendStandbyStatus(ctx, conn)
				deadline = time.Now().Add(standbyInterval)
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(cd.Data[1:])
			if err != nil {
				s.setErr(errors.Wrap(err, "source: parsing xlogdata message"))
				return
			}

			f, err := decodeFrame(xld.WALData)
			if err != nil {
				s.setErr(err)
				return
			}

			switch f.Action {
			case "B":
				pendingXid = f.Xid
				continue
			case "C":
				continue
			default:
				c, err := rowToChange(f, change.LSN(xld.WALStart), pendingXid, xld.ServerTime)
				if err != nil {
					s.setErr(err)
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *StreamSource) sendStandbyStatus(ctx context.Context, conn *pgconn.PgConn) {
	s.mu.Lock()
	lsn := pglogrepl.LSN(s.confirmedLSN)
	s.mu.Unlock()

	if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	}); err != nil {
		s.setErr(errors.Wrap(err, "source: sending standby status update"))
	}
}

func (s *StreamSource) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Ack implements Source, recording lsn as confirmed and, if the
// stream is live, immediately notifying the server rather than
// waiting for the next standby interval.
func (s *StreamSource) Ack(ctx context.Context, lsn change.LSN) error {
	s.mu.Lock()
	s.confirmedLSN = change.Max(s.confirmedLSN, lsn)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.sendStandbyStatus(ctx, conn)
	return s.Err()
}

// Err implements Source.
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
