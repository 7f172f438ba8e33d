package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

type call struct {
	sql  string
	args []any
}

type fakeRow struct {
	val string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.val
	return nil
}

type fakeQuerier struct {
	calls   []call
	rowErrs []error
	execErr error
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{sql, args})
	if len(f.rowErrs) > 0 {
		err := f.rowErrs[0]
		f.rowErrs = f.rowErrs[1:]
		if err != nil {
			return fakeRow{err: err}
		}
	}
	return fakeRow{val: args[0].(string)}
}

func TestTicketRepository_CreateTicket(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewTicketRepository(NewDB(q))

	id, err := repo.CreateTicket(context.Background(), model.Ticket{
		ConversationID: "oc_1",
		Category:       "access",
		InitialMessage: "login is broken",
		Description:    "every morning",
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, model.TicketIDPrefix))
	require.Len(t, id, len(model.TicketIDPrefix)+8)
	require.Len(t, q.calls, 1)
	require.Equal(t, "oc_1", q.calls[0].args[1])
	require.Equal(t, "access", q.calls[0].args[4])
}

func TestTicketRepository_RetriesIDCollision(t *testing.T) {
	q := &fakeQuerier{rowErrs: []error{&pgconn.PgError{Code: uniqueViolation}}}
	repo := NewTicketRepository(NewDB(q))

	id, err := repo.CreateTicket(context.Background(), model.Ticket{ConversationID: "oc_1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, q.calls, 2)
	require.NotEqual(t, q.calls[0].args[0], q.calls[1].args[0])
}

func TestTicketRepository_PropagatesOtherErrors(t *testing.T) {
	q := &fakeQuerier{rowErrs: []error{errors.New("connection refused")}}
	repo := NewTicketRepository(NewDB(q))

	_, err := repo.CreateTicket(context.Background(), model.Ticket{})
	require.ErrorContains(t, err, "connection refused")
	require.Len(t, q.calls, 1)
}

func TestAnalyticsRepository_Save(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewAnalyticsRepository(NewDB(q))

	ev := model.NewAnalyticsEvent(model.AnalyticsTicketCreated, "oc_1")
	ev.Meta = map[string]string{"ticket_id": "TKT-1"}
	require.NoError(t, repo.Save(context.Background(), ev))

	args := q.calls[0].args
	require.Equal(t, ev.ID, args[0])
	require.Equal(t, "ticket_created", args[1])
	require.Equal(t, true, args[2])
	require.JSONEq(t, `{"ticket_id":"TKT-1"}`, string(args[8].([]byte)))
}

func TestAnalyticsRepository_SaveWithoutMeta(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewAnalyticsRepository(NewDB(q))

	require.NoError(t, repo.Save(context.Background(), model.NewAnalyticsEvent(model.AnalyticsUserMessage, "oc_1")))
	require.Nil(t, q.calls[0].args[8])
	require.Equal(t, false, q.calls[0].args[2])
}

func TestDB_Migrate(t *testing.T) {
	q := &fakeQuerier{}
	require.NoError(t, NewDB(q).Migrate(context.Background()))
	require.Contains(t, q.calls[0].sql, "support_tickets")

	q.execErr = errors.New("permission denied")
	require.ErrorContains(t, NewDB(q).Migrate(context.Background()), "permission denied")
}
