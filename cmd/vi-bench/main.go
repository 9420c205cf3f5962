// Command vi-bench is a diagnostic and benchmark CLI for vicore: it attaches
// simulated RX and TX queues over a control-plane test double, drives them
// for a configured duration at a configured packet rate, and reports
// throughput alongside the same counters exposed on the Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"vicore"
	"vicore/internal/afxdp"
	"vicore/internal/config"
	"vicore/internal/controlplane"
	"vicore/internal/efcthdr"
	"vicore/internal/efcttx"
	"vicore/internal/eventpoll"
	"vicore/internal/logging"
	"vicore/internal/metrics"
	"vicore/internal/pktid"
	"vicore/internal/verrors"
)

var (
	version   = "v0.1.0"
	buildTime = "unknown"
	gitHash   = "unknown"
)

// txCompletionSeqMask mirrors the 5-bit hardware completion sequence width
// internal/efcttx reconciles against (spec.md §4.4); the bench driver needs
// it to synthesize plausible completion events for the event queue.
const txCompletionSeqMask = 0x1f

func main() {
	rootCmd := &cobra.Command{
		Use:     "vi-bench",
		Short:   "Diagnostic and benchmark driver for vicore's simulated virtual interfaces",
		Version: fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitHash),
		RunE:    run,
	}

	rootCmd.Flags().StringP("config", "c", "", "Configuration file path")
	rootCmd.Flags().String("transport", "", "Transport engine: efct or afxdp")
	rootCmd.Flags().Int("rx-queues", 0, "Number of RX queues to attach")
	rootCmd.Flags().Int("tx-queues", 0, "Number of TX queues to attach")
	rootCmd.Flags().Int("n-superbufs", 0, "Superbuffers per RX queue")
	rootCmd.Flags().Int("duration", 0, "Benchmark duration in seconds")
	rootCmd.Flags().Int("rate-pps", 0, "Target packets per second (0 = unthrottled)")
	rootCmd.Flags().Int("packet-size", 0, "Simulated payload size in bytes")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus /metrics listen address")
	rootCmd.Flags().Int("evq-clear-stride", -1, "EF_VI_EVQ_CLEAR_STRIDE override")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	log.Info("starting vi-bench", "version", version, "transport", cfg.Transport,
		"rx_queues", cfg.NRXQueues, "tx_queues", cfg.NTXQueues)

	metricsReg := metrics.NewVIMetrics(metrics.DefaultMetricsConfig())
	metricsSrv := metrics.NewServer(metricsReg, cfg.MetricsAddr)
	go func() {
		if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err.Error())
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DurationSeconds)*time.Second)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, stopping early", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var limiter *rate.Limiter
	if cfg.RatePPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePPS), cfg.RatePPS/10+1)
	}

	var summary runSummary
	switch config.Transport(cfg.Transport) {
	case config.TransportAFXDP:
		summary, err = runAFXDP(ctx, cfg, log, metricsReg, limiter)
	default:
		summary, err = runEFCT(ctx, cfg, log, metricsReg, limiter)
	}
	if err != nil {
		return err
	}

	fmt.Printf("vi-bench summary: elapsed=%s rx_packets=%d tx_packets=%d tx_completions=%d\n",
		summary.elapsed.Round(time.Millisecond), summary.rx, summary.tx, summary.completions)
	if summary.elapsed > 0 {
		fmt.Printf("  rx pps=%.0f tx pps=%.0f\n",
			float64(summary.rx)/summary.elapsed.Seconds(), float64(summary.tx)/summary.elapsed.Seconds())
	}
	log.Info("vi-bench finished", "rx_packets", summary.rx, "tx_packets", summary.tx, "tx_completions", summary.completions)
	return nil
}

// runSummary is what both transport loops report back to run for the
// final printout.
type runSummary struct {
	elapsed    time.Duration
	rx, tx     uint64
	completions uint64
}

// runEFCT drives the EFCT superbuffer/CTPIO transport: synthetic RX
// packets written directly into simulated superbuffer memory, TX
// descriptors reconciled through the shared EFCT event queue, both
// dispatched through one eventpoll.Poller.
func runEFCT(ctx context.Context, cfg *config.Config, log *logging.Logger, metricsReg *metrics.VIMetrics, limiter *rate.Limiter) (runSummary, error) {
	cp := controlplane.NewSim()

	rxQueues := make([]*rxDriver, cfg.NRXQueues)
	rxEngines := make([]eventpoll.RXEngine, cfg.NRXQueues)
	for i := range rxQueues {
		d, err := newRXDriver(cp, uint8(i), cfg)
		if err != nil {
			return runSummary{}, fmt.Errorf("attaching rx queue %d: %w", i, err)
		}
		rxQueues[i] = d
		rxEngines[i] = d.rxq.Engine
	}

	txQueues := make([]*efcttx.Queue, cfg.NTXQueues)
	txEngines := make([]eventpoll.TXEngine, cfg.NTXQueues)
	for i := range txQueues {
		q, err := efcttx.NewQueue(uint8(i), cfg.TXDescriptorRingSize, uint32(cfg.CTPIOApertureBytes))
		if err != nil {
			return runSummary{}, fmt.Errorf("attaching tx queue %d: %w", i, err)
		}
		txQueues[i] = q
		txEngines[i] = q
	}

	evq, err := vi.InitEVQ(make([]uint64, 1024))
	if err != nil {
		return runSummary{}, fmt.Errorf("building event queue: %w", err)
	}
	poller := eventpoll.NewPoller(evq, rxEngines, txEngines)

	var totalRX, totalTX, totalCompletions uint64
	events := make([]eventpoll.Event, 64)
	payload := make([]byte, cfg.PacketSize)

	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break loop
			}
		}

		for _, d := range rxQueues {
			if d.generateOne(uint16(cfg.PacketSize)) {
				metricsReg.RecordRollover(d.id)
				log.LogRollover(d.id, d.superbuf)
			}
		}
		for i, q := range txQueues {
			if err := q.Transmit(efcthdr.TXHeader{}, payload, pktid.New(uint8(i), 0, 0)); err != nil {
				metricsReg.RecordWouldBlock(uint8(i), "transmit")
				continue
			}
			totalTX++
			metricsReg.RecordPacketSent(uint8(i), len(payload))
			seq := uint32(totalTX-1) & txCompletionSeqMask
			evq.Publish(evq.Pointer(), eventpoll.EncodeTXCompletionEvent(uint8(i), seq))
		}

		n, err := poller.Poll(events)
		if err != nil {
			if errors.Is(err, verrors.ErrHardwareProtocolViolation) {
				metricsReg.RecordOverrun(0, "event_queue")
				log.LogOverrun(0, "event_queue")
			}
			log.Warn("poll error", "error", err.Error())
			continue
		}
		for _, e := range events[:n] {
			switch e.Kind {
			case eventpoll.KindRX:
				totalRX++
				metricsReg.RecordPacketsReceived(e.RX.QueueID, 1)
			case eventpoll.KindTXComplete:
				totalCompletions++
				metricsReg.RecordTXCompletion(e.TX.QueueID)
			}
		}
	}
	return runSummary{elapsed: time.Since(start), rx: totalRX, tx: totalTX, completions: totalCompletions}, nil
}

// runAFXDP drives the AF_XDP-style kernel-socket transport: four SPSC
// rings per queue over a UMEM frame pool, with Simulate* calls standing in
// for the kernel side exactly as the EFCT path's rxDriver stands in for
// the NIC. RX dispatch reuses eventpoll.Poller via AFXDPRXEngine, the same
// narrow interface the EFCT engine satisfies; TX completions have no real
// event ring to decode and are reconciled directly against the engine's
// own completion ring instead of through Poller.
func runAFXDP(ctx context.Context, cfg *config.Config, log *logging.Logger, metricsReg *metrics.VIMetrics, limiter *rate.Limiter) (runSummary, error) {
	rxEngines := make([]eventpoll.RXEngine, cfg.NRXQueues)
	rxRaw := make([]*afxdp.Engine, cfg.NRXQueues)
	for i := range rxRaw {
		eng, err := afxdp.NewEngine(uint8(i), cfg.AFXDPFrameCount, uint32(cfg.AFXDPFrameSize))
		if err != nil {
			return runSummary{}, fmt.Errorf("attaching afxdp rx queue %d: %w", i, err)
		}
		eng.RefillFillRing(cfg.AFXDPFrameCount)
		rxRaw[i] = eng
		rxEngines[i] = vi.NewAFXDPRXEngine(uint8(i), eng)
	}

	txQueues := make([]*afxdp.Engine, cfg.NTXQueues)
	for i := range txQueues {
		eng, err := afxdp.NewEngine(uint8(i), cfg.AFXDPFrameCount, uint32(cfg.AFXDPFrameSize))
		if err != nil {
			return runSummary{}, fmt.Errorf("attaching afxdp tx queue %d: %w", i, err)
		}
		txQueues[i] = eng
	}

	// FakeEVQ gives Poller's CheckEvent/TX-dispatch plumbing something to
	// look at for "has event?" sanity checks; AF_XDP never publishes real
	// completions onto it (SPEC_FULL.md §4.7 init_evq), so Poller is
	// only used here for its RX dispatch, not its TX path.
	poller := eventpoll.NewPoller(vi.FakeEVQ(), rxEngines, nil)

	var totalRX, totalTX, totalCompletions uint64
	events := make([]eventpoll.Event, 64)
	payload := make([]byte, cfg.PacketSize)

	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break loop
			}
		}

		for i, eng := range rxRaw {
			if err := eng.SimulateReceive(payload); err != nil {
				metricsReg.RecordWouldBlock(uint8(i), "afxdp_receive")
				continue
			}
			eng.RefillFillRing(1)
		}
		for i, eng := range txQueues {
			if err := eng.Transmit(payload); err != nil {
				metricsReg.RecordWouldBlock(uint8(i), "transmit")
				continue
			}
			totalTX++
			metricsReg.RecordPacketSent(uint8(i), len(payload))
			if eng.NeedKick() {
				eng.Kick()
				metricsReg.RecordKick(uint8(i))
			}
			eng.SimulateTransmitDrain(64)
		}

		n, err := poller.Poll(events)
		if err != nil {
			log.Warn("poll error", "error", err.Error())
			continue
		}
		for _, e := range events[:n] {
			if e.Kind != eventpoll.KindRX {
				continue
			}
			totalRX++
			metricsReg.RecordPacketsReceived(e.RX.QueueID, 1)
			rxEngines[e.RX.QueueID].(*vi.AFXDPRXEngine).Release(e.RX.RQID)
		}

		completions := make([]uint32, 64)
		for i, eng := range txQueues {
			cn, err := eng.PollCompletions(completions)
			if err != nil {
				log.Warn("tx completion poll error", "error", err.Error())
				continue
			}
			for j := 0; j < cn; j++ {
				totalCompletions++
				metricsReg.RecordTXCompletion(uint8(i))
			}
		}
	}
	return runSummary{elapsed: time.Since(start), rx: totalRX, tx: totalTX, completions: totalCompletions}, nil
}

// rxDriver plays the "kernel side" of one RX queue: it owns the backing
// memory the RX engine reads headers from and feeds it synthetic packets
// superbuffer by superbuffer, phase alternating on every rollover.
type rxDriver struct {
	id       uint8
	rxq      *vi.RXQueue
	mem      *benchMemory
	nSB      uint16
	superbuf uint16
	phase    bool
	writeIdx uint16
	perSB    uint16
}

func newRXDriver(cp controlplane.ControlPlane, id uint8, cfg *config.Config) (*rxDriver, error) {
	perSB := uint16(cfg.PacketsPerSuperbuf)
	mem := newBenchMemory(int(perSB), efcthdr.HeaderSize+cfg.PacketSize)

	ringLen := nextPow2(cfg.NSuperbufs)
	rxq, err := vi.AttachRXQ(cp, vi.AttachRXQConfig{
		QueueID:            id,
		NSuperbufs:         cfg.NSuperbufs,
		PacketsPerSuperbuf: perSB,
		FillRingBacking:    make([]uint32, ringLen),
		FreeRingBacking:    make([]uint32, ringLen),
		RefcountSlots:      cfg.NSuperbufs,
		Memory:             mem,
	})
	if err != nil {
		return nil, err
	}
	if err := rxq.Pool.FillRing(0, false); err != nil {
		return nil, err
	}
	return &rxDriver{id: id, rxq: rxq, mem: mem, nSB: uint16(cfg.NSuperbufs), perSB: perSB}, nil
}

// generateOne writes the next synthetic packet into the current
// superbuffer, rolling over to the next one (with a flipped phase) when
// full. It returns true when a rollover happened this call.
func (d *rxDriver) generateOne(length uint16) bool {
	rolled := false
	if d.writeIdx >= d.perSB {
		d.superbuf = (d.superbuf + 1) % d.nSB
		d.phase = !d.phase
		d.writeIdx = 0
		_ = d.rxq.Pool.FillRing(d.superbuf, d.phase)
		rolled = true
	}
	d.mem.writePacket(d.superbuf, int(d.writeIdx), d.phase, length)
	d.writeIdx++
	return rolled
}

// benchMemory plays the superbuffer VA window for one RX queue: a plain Go
// byte slice per superbuffer id, grown lazily, that the RX engine reads
// headers from and the driver above writes synthetic packets into.
type benchMemory struct {
	packetsPerSB int
	regionSize   int
	superbufs    map[uint16][]byte
}

func newBenchMemory(packetsPerSB, regionSize int) *benchMemory {
	return &benchMemory{packetsPerSB: packetsPerSB, regionSize: regionSize, superbufs: map[uint16][]byte{}}
}

func (m *benchMemory) ensure(sb uint16) []byte {
	buf, ok := m.superbufs[sb]
	if !ok {
		buf = make([]byte, m.packetsPerSB*m.regionSize)
		m.superbufs[sb] = buf
	}
	return buf
}

// Header implements efctrx.MemorySource.
func (m *benchMemory) Header(id pktid.ID) ([]byte, error) {
	buf := m.ensure(id.Superbuf())
	off := int(id.Index()) * m.regionSize
	return buf[off : off+m.regionSize], nil
}

func (m *benchMemory) writePacket(sb uint16, index int, phase bool, length uint16) {
	buf := m.ensure(sb)
	off := index * m.regionSize
	_ = efcthdr.EncodeRXHeader(buf[off:off+efcthdr.HeaderSize], efcthdr.RXHeader{
		SentinelPhase:   phase,
		PacketLength:    length,
		NextFrameOffset: efcthdr.FixedNextFrameOffset,
	})
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	if p == 0 {
		p = 1
	}
	return p
}
