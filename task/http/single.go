package http

import (
	"strings"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/task"
)

var _ task.Source = &Single{}

// Single issues one request built by substituting a column of the input
// cell into a URL template, joining the values in one query parameter with
// the separator, and publishes the parsed JSON response.
type Single struct {
	URL         string `json:"url"`
	Input       string `json:"input"`
	Column      string `json:"column"`
	Separator   string `json:"separator"`
	Output      string `json:"output"`
	Model       string `json:"model"`
	ContentType string `json:"content_type"`
	Timeout     string `json:"timeout"`
	MaxRetry    int    `json:"max_retry"`
}

// Description for http_single driver
func (s *Single) Description() string {
	return "a source that issues one templated GET and parses the JSON response"
}

// SampleConfig for http_single driver
func (s *Single) SampleConfig() string {
	return `    type: http_single
    url: https://api.example.com/players?ids={}
    input: PLAYER_IDS
    column: id
    separator: ","
    output: PLAYER_DATA`
}

// Inputs reports the optional input cell feeding the URL template.
func (s *Single) Inputs() []string {
	if s.Input == "" {
		return nil
	}
	return []string{s.Input}
}

// Outputs reports the published cell.
func (s *Single) Outputs() []string {
	return []string{s.Output}
}

// Read builds the URL, fetches it and publishes the response frame whole.
func (s *Single) Read(ctx *task.Context) error {
	if s.Output == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "http_single has no output cell")
	}
	url := s.URL
	if s.Input != "" && s.Column != "" {
		in, err := ctx.Read(s.Input)
		if err != nil {
			return err
		}
		vals, err := columnStrings(in, s.Column)
		if err != nil {
			return err
		}
		sep := s.Separator
		if sep == "" {
			sep = ","
		}
		url = strings.Replace(url, "{}", strings.Join(vals, sep), 1)
	}

	client, err := newClient(s.Timeout)
	if err != nil {
		return err
	}
	maxRetry := s.MaxRetry
	if maxRetry == 0 {
		maxRetry = defaultMaxRetry
	}
	body, err := fetch(client, url, s.ContentType, maxRetry, ctx.Logger())
	if err != nil {
		return errors.Wrap(fetchKind(err), ctx.Stage, err)
	}

	m, err := resolveModel(ctx, s.Model)
	if err != nil {
		return err
	}
	out, err := task.FrameFromJSON(body, m)
	if err != nil {
		return errors.Wrap(errors.SourceFail, ctx.Stage, err)
	}
	ctx.Logger().With("url", url).With("rows", out.NumRows()).Infoln("http_single fetched")
	return ctx.Publish(s.Output, out)
}
