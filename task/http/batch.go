package http

import (
	"golang.org/x/sync/errgroup"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/task"
)

var _ task.Source = &Batch{}

// Batch issues one request per input row's url column, bounded by
// max_threads, and collects the JSON payload of each response into one row
// of the output frame. Row order follows the input order regardless of
// completion order.
type Batch struct {
	Input       string `json:"input"`
	URLColumn   string `json:"url_column"`
	Output      string `json:"output"`
	Model       string `json:"model"`
	ContentType string `json:"content_type"`
	MaxThreads  int    `json:"max_threads"`
	Timeout     string `json:"timeout"`
	MaxRetry    int    `json:"max_retry"`
}

// Description for http_batch driver
func (b *Batch) Description() string {
	return "a source that fans one GET per input row out over a bounded worker set"
}

// SampleConfig for http_batch driver
func (b *Batch) SampleConfig() string {
	return `    type: http_batch
    input: URLS
    url_column: url
    max_threads: 4
    output: RESPONSES`
}

// Inputs reports the input cell carrying the url column.
func (b *Batch) Inputs() []string {
	return []string{b.Input}
}

// Outputs reports the published cell.
func (b *Batch) Outputs() []string {
	return []string{b.Output}
}

// Read fans the urls out, awaits every response and publishes all rows at
// once. A single failed request fails the whole batch; nothing partial is
// ever published.
func (b *Batch) Read(ctx *task.Context) error {
	if b.Input == "" || b.URLColumn == "" || b.Output == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "http_batch needs input, url_column and output")
	}
	in, err := ctx.Read(b.Input)
	if err != nil {
		return err
	}
	urls, err := columnStrings(in, b.URLColumn)
	if err != nil {
		return err
	}

	client, err := newClient(b.Timeout)
	if err != nil {
		return err
	}
	maxRetry := b.MaxRetry
	if maxRetry == 0 {
		maxRetry = defaultMaxRetry
	}
	threads := b.MaxThreads
	if threads <= 0 {
		threads = defaultMaxThreads
	}

	bodies := make([][]byte, len(urls))
	sem := make(chan struct{}, threads)
	var g errgroup.Group
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			select {
			case <-ctx.Done:
				return errors.New(errors.Cancelled, ctx.Stage, "cancelled before GET %s", url)
			default:
			}
			body, err := fetch(client, url, b.ContentType, maxRetry, ctx.Logger())
			if err != nil {
				return errors.Wrap(fetchKind(err), ctx.Stage, err)
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m, err := resolveModel(ctx, b.Model)
	if err != nil {
		return err
	}
	recs := make([]map[string]interface{}, len(bodies))
	for i, body := range bodies {
		one, err := task.FrameFromJSON(body, nil)
		if err != nil {
			return errors.Wrap(errors.SourceFail, ctx.Stage, err)
		}
		if one.NumRows() != 1 {
			return errors.New(errors.SourceFail, ctx.Stage, "response %d decoded to %d rows, expected one object", i, one.NumRows())
		}
		recs[i] = one.Records()[0]
	}
	out, err := task.FrameFromRecords(recs, m)
	if err != nil {
		return errors.Wrap(errors.SourceFail, ctx.Stage, err)
	}
	ctx.Logger().With("requests", len(urls)).With("max_threads", threads).Infoln("http_batch fetched")
	return ctx.Publish(b.Output, out)
}
