package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopSignals/internal/chain"
	"TopSignals/internal/model"
	"TopSignals/internal/service"
)

type fakeMetrics struct {
	mu        sync.Mutex
	crossed   bool
	rank      float64
	piErr     error
	refreshed int
}

func (f *fakeMetrics) BTCIndicators(context.Context) (service.Response[model.Indicators], error) {
	return service.Response[model.Indicators]{}, chain.ErrUnavailable
}

func (f *fakeMetrics) PiCycle(context.Context) (service.Response[model.PiCycle], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.piErr != nil {
		return service.Response[model.PiCycle]{}, f.piErr
	}
	return service.Response[model.PiCycle]{MetricResult: model.MetricResult[model.PiCycle]{
		Value: model.PiCycle{Crossed: f.crossed, SMA111: 100, SMA350x2: 99},
	}}, nil
}

func (f *fakeMetrics) CoinbaseRank(context.Context) (service.Response[model.RankReport], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := model.Float(f.rank)
	return service.Response[model.RankReport]{MetricResult: model.MetricResult[model.RankReport]{
		Value: model.RankReport{Overall: model.Rank{Position: pos}, Finance: model.Rank{Position: model.Float(2)}},
	}}, nil
}

func (f *fakeMetrics) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	return nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendWithRetry(_ context.Context, text string, _ int) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

type counter map[string]int

func (c counter) AlertSent(rule string) { c[rule]++ }

func TestCheckSignals(t *testing.T) {
	m := &fakeMetrics{crossed: true, rank: 50}
	snd := &fakeSender{}
	cnt := counter{}
	s := NewScheduler(context.Background(), m, snd, cnt, nil)

	alerts, err := s.CheckSignals(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "pi_cycle", alerts[0].Rule)
	require.Len(t, snd.sent, 1)
	assert.Contains(t, snd.sent[0], "Pi-Cycle")
	assert.Equal(t, 1, cnt["pi_cycle"])

	// unchanged state does not resend
	alerts, err = s.CheckSignals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Len(t, snd.sent, 1)
}

func TestCheckSignalsDryRun(t *testing.T) {
	m := &fakeMetrics{rank: 3}
	cnt := counter{}
	s := NewScheduler(context.Background(), m, nil, cnt, nil)

	alerts, err := s.CheckSignals(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "coinbase_rank", alerts[0].Rule)
	assert.Equal(t, 1, cnt["coinbase_rank"])
}

func TestCheckSignalsSendFailureNotCounted(t *testing.T) {
	m := &fakeMetrics{crossed: true, rank: 50}
	cnt := counter{}
	s := NewScheduler(context.Background(), m, &fakeSender{err: errors.New("down")}, cnt, nil)

	_, err := s.CheckSignals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cnt["pi_cycle"])
}

func TestRegisterAll(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeMetrics{}, nil, nil, nil)
	require.NoError(t, s.RegisterAll("0 */30 * * * *", "0 0 */4 * * *"))
	assert.Len(t, s.Cron.Entries(), 2)

	s = NewScheduler(context.Background(), &fakeMetrics{}, nil, nil, nil)
	assert.Error(t, s.RegisterAll("not a cron", "0 0 */4 * * *"))
}

func TestRunWarmNow(t *testing.T) {
	m := &fakeMetrics{}
	s := NewScheduler(context.Background(), m, nil, nil, nil)
	s.RunWarmNow()
	assert.Equal(t, 1, m.refreshed)
}

func TestHandleCommand(t *testing.T) {
	m := &fakeMetrics{rank: 12, piErr: chain.ErrUnavailable}
	s := NewScheduler(context.Background(), m, nil, nil, nil)
	ctx := context.Background()

	out := s.HandleCommand(ctx, "/ranks@TopSignalsBot")
	assert.Contains(t, out, "Overall: #12")
	assert.Contains(t, out, "Finance: #2")

	out = s.HandleCommand(ctx, "/signals")
	assert.Contains(t, out, "Pi-Cycle Top</b>: unavailable")
	assert.Contains(t, out, "Indicators</b>: unavailable")

	assert.Contains(t, s.HandleCommand(ctx, "hello"), "/signals")
}
