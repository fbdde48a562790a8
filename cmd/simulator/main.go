// Command simulator is a stand-in plant for exercising the databroker
// without the numerical solver. It speaks the same shared memory and
// semaphore contract as the simulator adapter: publish the handshake, then
// per step wait for the broker's update, advance the plant and post publish.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/model"
)

func main() {
	timestep := flag.Duration("timestep", 10*time.Millisecond, "simulation timestep")
	steps := flag.Int("steps", 0, "stop after this many steps; 0 runs until stopped")
	inflow := flag.Float64("inflow-gain", 2.0, "tank inflow per unit of pump command")
	outflow := flag.Float64("outflow-gain", 0.5, "tank outflow per unit of level and valve opening")
	flag.Parse()

	log := logging.NewFromEnv().With(logging.Component("simulator"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := newTank(*inflow, *outflow)
	port, err := ipc.CreateSimulatorPort(ipc.DefaultShmKeys, float64(*timestep)/float64(time.Millisecond), t.publish, t.update)
	if err != nil {
		log.Error(ctx, "failed to create shared memory", logging.Err(err))
		os.Exit(1)
	}
	defer port.Close()

	sems, err := ipc.OpenBank(ipc.DefaultNames)
	if err != nil {
		log.Error(ctx, "failed to open session semaphores", logging.Err(err))
		os.Exit(1)
	}
	defer sems.Close()

	n, err := runPlant(ctx, t, port, sems, timestep.Seconds(), *steps)
	if err != nil && ctx.Err() == nil {
		log.Error(ctx, "plant loop failed", logging.Err(err))
	}
	log.Info(ctx, "simulation complete", logging.Int("steps", n), logging.Float("level", t.level))
}

// simPort is the simulator's side of the shared memory.
type simPort interface {
	WritePublish(points []model.Point)
	ReadUpdate(dst []model.Point)
}

// runPlant announces the handshake and steps the tank until steps is
// reached, stop is raised elsewhere, or ctx ends. It always terminates the
// session the way the adapter does: raise stop, then post publish twice so
// a broker blocked on it wakes up.
func runPlant(ctx context.Context, t *tank, port simPort, sems *ipc.Bank, dt float64, steps int) (int, error) {
	defer func() {
		_ = sems.SignalStop()
		_ = sems.PublishReady.Post()
		_ = sems.PublishReady.Post()
	}()

	if err := sems.HandshakeReady.Post(); err != nil {
		return 0, err
	}
	n := 0
	for steps <= 0 || n < steps {
		if err := sems.UpdateReady.Wait(ctx); err != nil {
			return n, err
		}
		if sems.IsStopped() {
			return n, nil
		}
		port.ReadUpdate(t.update)
		t.advance(dt)
		port.WritePublish(t.publish)
		n++
		if err := sems.PublishReady.Post(); err != nil {
			return n, err
		}
	}
	return n, nil
}
