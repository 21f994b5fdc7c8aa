package channels

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/hostwatch/dbopen"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

// fakeChannel records chunks and fails on demand.
type fakeChannel struct {
	mu        sync.Mutex
	name      string
	maxLength int
	failures  []error // consumed one per SendChunk call
	got       []string
}

func (f *fakeChannel) Name() string          { return f.name }
func (f *fakeChannel) Kind() string          { return "fake" }
func (f *fakeChannel) MaxMessageLength() int { return f.maxLength }

func (f *fakeChannel) SendChunk(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return err
		}
	}
	f.got = append(f.got, text)
	return nil
}

func (f *fakeChannel) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func quickRouter(opts ...RouterOption) *Router {
	base := []RouterOption{
		WithRetryBackoff(0),
		WithChunkDelay(0),
	}
	return NewRouter(append(base, opts...)...)
}

func TestAdmin_CRUD(t *testing.T) {
	db := testDB(t)
	admin := NewAdmin(db)
	ctx := context.Background()

	if err := admin.Upsert(ctx, "ops-telegram", "telegram", true,
		json.RawMessage(`{"bot_token":"tok","chat_id":"42"}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := admin.Upsert(ctx, "ops-mail", "mail", false,
		json.RawMessage(`{"relay":"127.0.0.1:25","from":"a@b","to":["c@d"]}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := admin.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Name != "ops-mail" || rows[1].Name != "ops-telegram" {
		t.Errorf("rows not ordered by name: %q, %q", rows[0].Name, rows[1].Name)
	}
	if rows[0].Enabled {
		t.Errorf("ops-mail should be disabled")
	}

	got, err := admin.Get(ctx, "ops-telegram")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Kind != "telegram" {
		t.Fatalf("get returned %+v", got)
	}

	if got, err := admin.Get(ctx, "nope"); err != nil || got != nil {
		t.Errorf("get missing = (%+v, %v), want (nil, nil)", got, err)
	}

	if err := admin.SetEnabled(ctx, "ops-mail", true); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	got, _ = admin.Get(ctx, "ops-mail")
	if !got.Enabled {
		t.Errorf("ops-mail still disabled after SetEnabled")
	}

	if err := admin.Delete(ctx, "ops-mail"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := admin.Delete(ctx, "ops-mail"); err == nil {
		t.Errorf("deleting a missing channel should fail")
	}
}

func TestAdmin_RejectsUnknownKind(t *testing.T) {
	db := testDB(t)
	err := NewAdmin(db).Upsert(context.Background(), "bad", "pager", true, nil)
	if err == nil {
		t.Fatal("kind outside the CHECK constraint should be rejected")
	}
}

func TestRouter_ReloadReconciles(t *testing.T) {
	db := testDB(t)
	admin := NewAdmin(db)
	ctx := context.Background()

	r := quickRouter()
	r.RegisterKind("stdout", func(name string, config json.RawMessage) (Channel, error) {
		return &fakeChannel{name: name}, nil
	})

	admin.Upsert(ctx, "a", "stdout", true, nil)
	admin.Upsert(ctx, "b", "stdout", false, nil)
	if err := r.Reload(ctx, db); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := r.Active(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("active = %v, want [a]", got)
	}

	// Enabling b and disabling a swaps the active set.
	admin.SetEnabled(ctx, "a", false)
	admin.SetEnabled(ctx, "b", true)
	if err := r.Reload(ctx, db); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := r.Active(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("active = %v, want [b]", got)
	}
}

func TestRouter_ReloadRecreatesOnConfigChange(t *testing.T) {
	db := testDB(t)
	admin := NewAdmin(db)
	ctx := context.Background()

	var built int
	r := quickRouter()
	r.RegisterKind("stdout", func(name string, config json.RawMessage) (Channel, error) {
		built++
		return &fakeChannel{name: name}, nil
	})

	admin.Upsert(ctx, "a", "stdout", true, json.RawMessage(`{"max_length":100}`))
	r.Reload(ctx, db)
	r.Reload(ctx, db)
	if built != 1 {
		t.Fatalf("unchanged config rebuilt the channel: built=%d", built)
	}

	admin.Upsert(ctx, "a", "stdout", true, json.RawMessage(`{"max_length":200}`))
	r.Reload(ctx, db)
	if built != 2 {
		t.Fatalf("changed config did not rebuild the channel: built=%d", built)
	}
}

func TestRouter_RetriesTransientFailures(t *testing.T) {
	transient := &SendError{Channel: "c", Kind: "fake", Transient: true, Cause: errors.New("429")}
	ch := &fakeChannel{name: "c", failures: []error{transient, transient, nil}}

	r := quickRouter()
	r.Set(ch)

	results := r.Send(context.Background(), "hello")
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	if !res.Success || res.Attempts != 3 {
		t.Errorf("result = %+v, want success after 3 attempts", res)
	}
	if got := ch.received(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("channel received %v", got)
	}
}

func TestRouter_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := &SendError{Channel: "c", Kind: "fake", Transient: true, Cause: errors.New("503")}
	ch := &fakeChannel{name: "c", failures: []error{transient, transient, transient, transient}}

	r := quickRouter()
	r.Set(ch)

	res := r.Send(context.Background(), "hello")[0]
	if res.Success || res.Attempts != 3 {
		t.Errorf("result = %+v, want failure after exactly 3 attempts", res)
	}
}

func TestRouter_PermanentFailureNotRetried(t *testing.T) {
	permanent := &SendError{Channel: "c", Kind: "fake", Transient: false, Cause: errors.New("401")}
	ch := &fakeChannel{name: "c", failures: []error{permanent}}

	r := quickRouter()
	r.Set(ch)

	res := r.Send(context.Background(), "hello")[0]
	if res.Success || res.Attempts != 1 {
		t.Errorf("result = %+v, want a single failed attempt", res)
	}
}

func TestRouter_ChannelsIndependent(t *testing.T) {
	permanent := &SendError{Channel: "bad", Kind: "fake", Transient: false, Cause: errors.New("boom")}
	bad := &fakeChannel{name: "bad", failures: []error{permanent}}
	good := &fakeChannel{name: "good"}

	r := quickRouter()
	r.Set(bad)
	r.Set(good)

	results := r.Send(context.Background(), "alert text")
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Results are ordered by name: bad, good.
	if results[0].Success {
		t.Errorf("bad channel reported success")
	}
	if !results[1].Success {
		t.Errorf("good channel dragged down by bad one: %v", results[1].Err)
	}
	if got := good.received(); len(got) != 1 {
		t.Errorf("good channel received %v", got)
	}
}

func TestRouter_ChunkFailureDoesNotStopRemainder(t *testing.T) {
	permanent := &SendError{Channel: "c", Kind: "fake", Transient: false, Cause: errors.New("boom")}
	// First chunk fails permanently, remaining chunks still go out.
	ch := &fakeChannel{name: "c", maxLength: 30, failures: []error{permanent}}

	r := quickRouter()
	r.Set(ch)

	body := strings.Join([]string{"line one", "line two", "line three", "line four"}, "\n")
	res := r.Send(context.Background(), body)[0]
	if res.Success {
		t.Errorf("partial delivery reported as success")
	}
	if res.Chunks < 2 {
		t.Fatalf("test body did not chunk: %+v", res)
	}
	if got := ch.received(); len(got) != res.Chunks-1 {
		t.Errorf("got %d delivered chunks, want %d", len(got), res.Chunks-1)
	}
}

func TestRouter_EmptyTextDropped(t *testing.T) {
	ch := &fakeChannel{name: "c"}
	r := quickRouter()
	r.Set(ch)
	if results := r.Send(context.Background(), ""); results != nil {
		t.Errorf("empty text produced results: %v", results)
	}
}

func TestTelegram_SendChunk(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		req.ParseForm()
		gotChat = req.FormValue("chat_id")
		gotText = req.FormValue("text")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch, err := TelegramFactory()("tg", json.RawMessage(
		`{"bot_token":"tok123","chat_id":"42","api_base":"`+srv.URL+`"}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	if err := ch.SendChunk(context.Background(), "hi there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bottok123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotChat != "42" || gotText != "hi there" {
		t.Errorf("form = chat %q text %q", gotChat, gotText)
	}
	if ch.MaxMessageLength() != telegramMaxLength {
		t.Errorf("max length = %d, want %d", ch.MaxMessageLength(), telegramMaxLength)
	}
}

func TestTelegram_ErrorClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantTransient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ch, _ := TelegramFactory()("tg", json.RawMessage(
				`{"bot_token":"tok","chat_id":"1","api_base":"`+srv.URL+`"}`))
			err := ch.SendChunk(context.Background(), "x")
			if err == nil {
				t.Fatal("want error")
			}
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("status %d transient = %v, want %v",
					tt.status, IsTransient(err), tt.wantTransient)
			}
		})
	}
}

func TestTelegram_FactoryValidation(t *testing.T) {
	f := TelegramFactory()
	if _, err := f("tg", json.RawMessage(`{"chat_id":"1"}`)); err == nil {
		t.Errorf("missing bot_token accepted")
	}
	if _, err := f("tg", json.RawMessage(`{"bot_token":"t"}`)); err == nil {
		t.Errorf("missing chat_id accepted")
	}
}

func TestMail_BuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	ch, err := MailFactory()("mx", json.RawMessage(
		`{"relay":"relay.local:25","from":"agent@web-01","to":["ops@example.com"],"subject":"disk alert"}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	mc := ch.(*mailChannel)
	mc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := mc.SendChunk(context.Background(), "disk / at 95%\ncheck logs"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "relay.local:25" || gotFrom != "agent@web-01" {
		t.Errorf("relay = %q from = %q", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{
		"Subject: disk alert\r\n",
		"To: ops@example.com\r\n",
		"disk / at 95%\r\ncheck logs",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if mc.MaxMessageLength() != 0 {
		t.Errorf("mail should be unlimited, got %d", mc.MaxMessageLength())
	}
}

func TestMail_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"auth rejected", &textproto.Error{Code: 535, Msg: "bad credentials"}, false},
		{"mailbox unavailable", &textproto.Error{Code: 550, Msg: "no such user"}, false},
		{"greylisted", &textproto.Error{Code: 451, Msg: "try again later"}, true},
		{"relay down", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, _ := MailFactory()("mx", json.RawMessage(
				`{"relay":"relay.local:25","from":"a@b","to":["c@d"]}`))
			mc := ch.(*mailChannel)
			mc.send = func(string, smtp.Auth, string, []string, []byte) error { return tt.err }

			err := mc.SendChunk(context.Background(), "x")
			if err == nil {
				t.Fatal("want error")
			}
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("transient = %v, want %v", IsTransient(err), tt.wantTransient)
			}
		})
	}
}

func TestMail_SendDeadline(t *testing.T) {
	// A relay that accepts the connection and then never sends its
	// greeting must fail the send at the deadline, not hang.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	stall := make(chan struct{})
	defer close(stall)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-stall
	}()

	send := sendMail(100 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		done <- send(ln.Addr().String(), nil, "a@b", []string{"c@d"}, []byte("x"))
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("send against a stalled relay succeeded")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not respect its deadline")
	}
}

func TestRouter_WatchPicksUpChanges(t *testing.T) {
	// data_version only moves for writes from another connection, so the
	// watcher reads from one connection while the admin writes through a
	// second one against the same file.
	dbPath := t.TempDir() + "/channels.db"

	writerDB, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writerDB.Close()

	readerDB, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer readerDB.Close()

	admin := NewAdmin(writerDB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := quickRouter()
	r.RegisterKind("stdout", func(name string, config json.RawMessage) (Channel, error) {
		return &fakeChannel{name: name}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Watch(ctx, readerDB, 10*time.Millisecond)
	}()

	if err := admin.Upsert(ctx, "live", "stdout", true, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if got := r.Active(); len(got) == 1 && got[0] == "live" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("watcher never picked up the new channel, active=%v", r.Active())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
