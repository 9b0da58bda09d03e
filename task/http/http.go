// Package http provides the http_single and http_batch source drivers that
// turn JSON endpoints into frames.
package http

import (
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/log"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
)

const (
	defaultTimeout    = "30s"
	defaultMaxRetry   = 3
	defaultMaxThreads = 4
)

func init() {
	task.Add("http_single", func() task.Task { return &Single{} })
	task.Add("http_batch", func() task.Task { return &Batch{} })
}

// fetch GETs one url with exponential backoff, enforcing an optional
// content type.
func fetch(client *http.Client, url, contentType string, maxRetry int, l log.Logger) ([]byte, error) {
	var body []byte
	op := func() error {
		resp, err := client.Do(mustRequest(url))
		if err != nil {
			l.With("url", url).With("err", err).Debugln("http GET failed, retrying...")
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			l.With("url", url).With("status", resp.StatusCode).Debugln("http GET failed, retrying...")
			return errors.New(errors.SourceFail, "", "http status %d for %s", resp.StatusCode, url)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(errors.New(errors.SourceFail, "", "http status %d for %s", resp.StatusCode, url))
		}
		if contentType != "" {
			actual := resp.Header.Get("Content-Type")
			if !strings.Contains(actual, contentType) {
				return backoff.Permanent(errors.New(errors.SourceFail, "",
					"content-type %q does not match expected %q for %s", actual, contentType, url))
			}
		}
		body, err = ioutil.ReadAll(resp.Body)
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetry))
	if err := backoff.Retry(op, b); err != nil {
		if isTimeout(err) {
			return nil, errors.Wrap(errors.Timeout, "", err)
		}
		return nil, err
	}
	return body, nil
}

func mustRequest(url string) *http.Request {
	req, _ := http.NewRequest("GET", url, nil)
	return req
}

// fetchKind classifies a fetch failure, defaulting to SOURCE_FAIL.
func fetchKind(err error) errors.Kind {
	if k := errors.KindOf(err); k != errors.Unknown {
		return k
	}
	return errors.SourceFail
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func newClient(timeout string) (*http.Client, error) {
	if timeout == "" {
		timeout = defaultTimeout
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, errors.New(errors.ConfigValidate, "", "invalid timeout %q: %s", timeout, err)
	}
	return &http.Client{Timeout: d}, nil
}

func resolveModel(ctx *task.Context, name string) (*model.Model, error) {
	if name == "" {
		return nil, nil
	}
	return ctx.Model(name)
}

// columnStrings stringifies one column of an input frame.
func columnStrings(f *frame.Frame, name string) ([]string, error) {
	vals, _, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = frame.Stringify(v)
	}
	return out, nil
}
