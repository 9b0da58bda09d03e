package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/task"
)

func urlsFrame(t *testing.T, urls ...string) *frame.Frame {
	t.Helper()
	col := make([]interface{}, len(urls))
	for i, u := range urls {
		col[i] = u
	}
	f, err := frame.New(frame.Schema{{Name: "url", Type: frame.Scalar(frame.Str)}}, [][]interface{}{col})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestBatchPreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := strings.TrimPrefix(r.URL.Path, "/item/")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": %s}`, n)
	}))
	defer srv.Close()

	const rows = 8
	urls := make([]string, rows)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/item/%d", srv.URL, i)
	}

	ctx := task.NewTestContext([]string{"URLS", "OUT"}, true)
	cell, _ := ctx.Universe.Cell("URLS")
	cell.Publish(urlsFrame(t, urls...), "test")

	b := &Batch{Input: "URLS", URLColumn: "url", Output: "OUT", MaxThreads: 2}
	if err := b.Read(ctx); err != nil {
		t.Fatalf("Read failed, %s", err)
	}
	out, _ := ctx.Universe.Cell("OUT")
	f, _ := out.Read()
	if f.NumRows() != rows {
		t.Fatalf("wrong row count, expected %d, got %d", rows, f.NumRows())
	}
	ids, _, err := f.Column("id")
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range ids {
		if v != float64(i) {
			t.Errorf("row %d out of order, got %v", i, v)
		}
	}
}

func TestBatchFailureIsAllOrNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bad") {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"id": 1}`)
	}))
	defer srv.Close()

	ctx := task.NewTestContext([]string{"URLS", "OUT"}, true)
	cell, _ := ctx.Universe.Cell("URLS")
	cell.Publish(urlsFrame(t, srv.URL+"/ok", srv.URL+"/bad"), "test")

	b := &Batch{Input: "URLS", URLColumn: "url", Output: "OUT", MaxThreads: 2}
	err := b.Read(ctx)
	if errors.KindOf(err) != errors.SourceFail {
		t.Fatalf("expected SOURCE_FAIL, got %v", err)
	}
	out, _ := ctx.Universe.Cell("OUT")
	if out.Generation() != 0 {
		t.Errorf("failed batch must publish nothing")
	}
}

func TestBatchRetriesServerErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id": 1}`)
	}))
	defer srv.Close()

	ctx := task.NewTestContext([]string{"URLS", "OUT"}, true)
	cell, _ := ctx.Universe.Cell("URLS")
	cell.Publish(urlsFrame(t, srv.URL+"/x"), "test")

	b := &Batch{Input: "URLS", URLColumn: "url", Output: "OUT", MaxRetry: 3}
	if err := b.Read(ctx); err != nil {
		t.Fatalf("Read should succeed after retry, got %s", err)
	}
	if atomic.LoadInt64(&calls) < 2 {
		t.Errorf("expected a retry, got %d calls", calls)
	}
}

func TestSingleJoinsColumnIntoURL(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[{"id": 1}, {"id": 2}]`)
	}))
	defer srv.Close()

	ids, _ := frame.New(frame.Schema{{Name: "id", Type: frame.Scalar(frame.Int64)}},
		[][]interface{}{{int64(10), int64(11), int64(12)}})
	ctx := task.NewTestContext([]string{"IDS", "OUT"}, true)
	cell, _ := ctx.Universe.Cell("IDS")
	cell.Publish(ids, "test")

	s := &Single{
		URL:       srv.URL + "/players?ids={}",
		Input:     "IDS",
		Column:    "id",
		Separator: ",",
		Output:    "OUT",
	}
	if err := s.Read(ctx); err != nil {
		t.Fatalf("Read failed, %s", err)
	}
	if gotQuery != "ids=10,11,12" {
		t.Errorf("wrong query, got %q", gotQuery)
	}
	out, _ := ctx.Universe.Cell("OUT")
	f, _ := out.Read()
	if f.NumRows() != 2 {
		t.Errorf("wrong row count, got %d", f.NumRows())
	}
}

func TestContentTypeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	ctx := task.NewTestContext([]string{"OUT"}, true)
	s := &Single{URL: srv.URL, Output: "OUT", ContentType: "application/json"}
	if err := s.Read(ctx); errors.KindOf(err) != errors.SourceFail {
		t.Errorf("content-type mismatch should fail SOURCE_FAIL, got %v", err)
	}
}
