package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var addr string
var conc int64
var numRequests int
var pools []string

func main() {
	pflag.StringVarP(&addr, "address", "a", "localhost:56100", "workpool gRPC address")
	pflag.Int64VarP(&conc, "concurrency", "", 250, "max concurrent health checks")
	pflag.IntVarP(&numRequests, "requests", "", 1000, "number of checks per pool")
	pflag.StringSliceVarP(&pools, "pool", "", []string{"default"}, "list of pools to probe")
	pflag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cc, healthClient, err := createHealthClient(ctx, addr)
	if err != nil {
		panic(err)
	}
	defer cc.Close()

	var failed atomic.Int64
	notServing := make(map[string]*atomic.Int64, len(pools))
	for _, p := range pools {
		notServing[p] = new(atomic.Int64)
	}

	wg := &sync.WaitGroup{}
	wg.Add(numRequests * len(pools))
	sem := semaphore.NewWeighted(conc)
	now := time.Now()
	for _, p := range pools {
		// loop, concurrent
		for i := 0; i < numRequests; i++ {
			err := sem.Acquire(ctx, 1)
			if err != nil {
				panic(err)
			}
			go func(p string) {
				defer wg.Done()
				defer sem.Release(1)
				rsp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: p})
				if err != nil {
					failed.Add(1)
					return
				}
				if rsp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
					notServing[p].Add(1)
				}
			}(p)
		}
	}
	wg.Wait()
	took := time.Since(now)
	total := numRequests * len(pools)
	fmt.Printf("%d checks in %s (%.0f/s), %d failed\n", total, took, float64(total)/took.Seconds(), failed.Load())
	for _, p := range pools {
		fmt.Printf("  %s: %d not serving\n", p, notServing[p].Load())
	}
}

func createHealthClient(ctx context.Context, addr string) (*grpc.ClientConn, healthpb.HealthClient, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cc, err := grpc.DialContext(ctx, addr,
		grpc.WithBlock(),
		grpc.WithTransportCredentials(
			insecure.NewCredentials(),
		),
	)
	if err != nil {
		return nil, nil, err
	}
	return cc, healthpb.NewHealthClient(cc), nil
}
