// iopulse-loadgen is a tiny, dependency-light smoke-test driver for a
// running iopulse-node. It plays the Coordinator side of the wire protocol
// against a single node over loopback or LAN: CONFIG, READY, START, a short
// wait, STOP, RESULTS — without any of the multi-node partitioning,
// clock-offset handling, or dead-man watching a real iopulse-coordinator
// run does. It exists to let a demo script or CI check verify a node
// binary works end to end without standing up a full run.
//
// Usage:
//
//	iopulse-loadgen -addr=127.0.0.1:7600 -workers=4 -duration=5s
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"iopulse/internal/protocol"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:7600", "node control-plane address")
		workers     = flag.Int("workers", 4, "worker_count to request in CONFIG")
		duration    = flag.Duration("duration", 5*time.Second, "how long to let the node run before STOP")
		blockSize   = flag.Int("block-size", 4096, "I/O block size in bytes")
		readPercent = flag.Int("read-percent", 100, "percentage of operations that are reads")
		timeout     = flag.Duration("timeout", 30*time.Second, "overall dial+handshake timeout")
	)
	flag.Parse()

	if err := run(*addr, *workers, *duration, *blockSize, *readPercent, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "iopulse-loadgen:", err)
		os.Exit(1)
	}
}

func run(addr string, workers int, duration time.Duration, blockSize, readPercent int, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	cfg := protocol.ConfigMsg{
		ProtocolVersion: protocol.Version,
		Workload: protocol.WorkloadSpec{
			BlockSize:        blockSize,
			ReadPercent:      readPercent,
			AccessPattern:    "random",
			Distribution:     "uniform",
			QueueDepth:       1,
			Backend:          "sync",
			DurationMs:       duration.Milliseconds(),
			WritePattern:     "random",
			FileDistribution: "shared",
			ContinueOnError:  true,
		},
		WorkerCount: workers,
	}
	for i := 0; i < workers; i++ {
		cfg.Assignments = append(cfg.Assignments, protocol.WorkerAssignment{WorkerID: i})
	}

	if err := protocol.Write(conn, protocol.MsgConfig, &cfg); err != nil {
		return fmt.Errorf("send CONFIG: %w", err)
	}

	ready, err := awaitType(conn, protocol.MsgReady)
	if err != nil {
		return fmt.Errorf("await READY: %w", err)
	}
	var readyMsg protocol.ReadyMsg
	if err := ready.Decode(&readyMsg); err != nil {
		return fmt.Errorf("decode READY: %w", err)
	}
	fmt.Printf("node ready: worker_count=%d\n", readyMsg.WorkerCount)

	start := time.Now().Add(200 * time.Millisecond)
	if err := protocol.Write(conn, protocol.MsgStart, &protocol.StartMsg{StartUnixNs: start.UnixNano()}); err != nil {
		return fmt.Errorf("send START: %w", err)
	}

	var wg sync.WaitGroup
	heartbeats := 0
	stopHeartbeats := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		drainHeartbeats(conn, stopHeartbeats, &heartbeats)
	}()

	time.Sleep(duration)
	close(stopHeartbeats)
	wg.Wait()

	if err := protocol.Write(conn, protocol.MsgStop, &protocol.StopMsg{}); err != nil {
		return fmt.Errorf("send STOP: %w", err)
	}

	results, err := awaitType(conn, protocol.MsgResults)
	if err != nil {
		return fmt.Errorf("await RESULTS: %w", err)
	}
	var r protocol.ResultsMsg
	if err := results.Decode(&r); err != nil {
		return fmt.Errorf("decode RESULTS: %w", err)
	}

	elapsedSec := duration.Seconds()
	if elapsedSec <= 0 {
		elapsedSec = 1
	}
	totalOps := r.Final.ReadOps + r.Final.WriteOps
	fmt.Printf("LoadGen: node=%s workers=%d heartbeats=%d read_ops=%d write_ops=%d read_bytes=%d write_bytes=%d throughput=%.0f ops/s\n",
		r.NodeID, workers, heartbeats, r.Final.ReadOps, r.Final.WriteOps, r.Final.ReadBytes, r.Final.WriteBytes, float64(totalOps)/elapsedSec)
	return nil
}

// drainHeartbeats reads and acknowledges HEARTBEATs until stop is closed,
// so the node's dead-man timer doesn't fire mid-run.
func drainHeartbeats(conn net.Conn, stop <-chan struct{}, count *int) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		msg, err := protocol.Read(conn)
		if err != nil {
			continue
		}
		if msg.Type != protocol.MsgHeartbeat {
			continue
		}
		*count++
		_ = protocol.Write(conn, protocol.MsgHeartbeatAck, &protocol.HeartbeatAckMsg{})
	}
}

func awaitType(conn net.Conn, want protocol.MsgType) (protocol.Message, error) {
	_ = conn.SetReadDeadline(time.Time{})
	msg, err := protocol.Read(conn)
	if err != nil {
		return protocol.Message{}, err
	}
	if msg.Type != want {
		return protocol.Message{}, fmt.Errorf("got %s, want %s", msg.Type, want)
	}
	return msg, nil
}
