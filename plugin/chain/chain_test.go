package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	name        string
	processErr  error
	short       *dns.Msg
	processed   *[]string
	postProcess *[]string
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Process(_ context.Context, _ *QueryState) (Result, error) {
	if f.processed != nil {
		*f.processed = append(*f.processed, f.name)
	}
	if f.processErr != nil {
		return Result{}, f.processErr
	}
	if f.short != nil {
		return Short(f.short), nil
	}
	return Next(), nil
}

func (f *fakeHandler) PostProcess(_ context.Context, _ *QueryState, resp *dns.Msg) *dns.Msg {
	if f.postProcess != nil {
		*f.postProcess = append(*f.postProcess, f.name)
	}
	return resp
}

func newQuery() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	return m
}

func TestChainEmptyProducesImplicitNXDOMAIN(t *testing.T) {
	c := New(nil)
	resp := c.Serve(context.Background(), &QueryState{Query: newQuery()})
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestChainShortCircuitsAndPostProcessesOnlyEntered(t *testing.T) {
	var processed, post []string
	short := newQuery()
	short.Response = true

	h1 := &fakeHandler{name: "a", processed: &processed, postProcess: &post}
	h2 := &fakeHandler{name: "b", short: short, processed: &processed, postProcess: &post}
	h3 := &fakeHandler{name: "c", processed: &processed, postProcess: &post}

	c := New([]Handler{h1, h2, h3})
	resp := c.Serve(context.Background(), &QueryState{Query: newQuery()})

	require.Same(t, short, resp)
	require.Equal(t, []string{"a", "b"}, processed)
	require.Equal(t, []string{"b", "a"}, post)
}

func TestChainProcessErrorProducesImplicitServfail(t *testing.T) {
	h1 := &fakeHandler{name: "a", processErr: errors.New("boom")}
	c := New([]Handler{h1})
	resp := c.Serve(context.Background(), &QueryState{Query: newQuery()})
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestChainAllPassThroughFallsToImplicitNXDOMAIN(t *testing.T) {
	var processed []string
	h1 := &fakeHandler{name: "a", processed: &processed}
	h2 := &fakeHandler{name: "b", processed: &processed}

	c := New([]Handler{h1, h2})
	resp := c.Serve(context.Background(), &QueryState{Query: newQuery()})

	require.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Equal(t, []string{"a", "b"}, processed)
}
