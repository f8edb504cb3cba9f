// Command loadgen drives concurrent store/read traffic against a database
// manager instance and prints throughput and final Varz stats, the way the
// teacher's own benchmark command exercised unitdb directly.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"path"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dejankos/rocky/internal/clock"
	"github.com/dejankos/rocky/internal/dbmanager"
	"github.com/dejankos/rocky/internal/engine"
	"github.com/dejankos/rocky/internal/engine/pebbleengine"
	"github.com/dejankos/rocky/internal/metrics"
)

func randKey(minL, maxL int) string {
	n := rand.Intn(maxL-minL+1) + minL
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rand.Intn(95) + 32)
	}
	return string(buf)
}

func generateKeys(count, minL, maxL int) []string {
	keys := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(keys) < count {
		k := randKey(minL, maxL)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printStats(mgr *dbmanager.Manager) {
	fmt.Printf("%+v\n", mgr.Varz())
}

func run(dir string, numKeys, minKS, maxKS, minVS, maxVS, concurrency int) error {
	log := zerolog.Nop()
	opener := func(path string, filter engine.CompactionFilter) (engine.Engine, error) {
		return pebbleengine.Open(path, filter, pebbleengine.Options{FS: vfs.Default, Log: log})
	}
	destroyer := func(path string) error {
		return pebbleengine.Destroy(path, vfs.Default)
	}

	mgr, err := dbmanager.Open(dir, opener, destroyer, clock.System{}, log, metrics.NewMeter())
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	const dbName = "loadgen"
	if err := mgr.Open(dbName); err != nil {
		return err
	}

	fmt.Printf("Number of keys: %d\n", numKeys)
	fmt.Printf("Minimum key size: %d, maximum key size: %d\n", minKS, maxKS)
	fmt.Printf("Concurrency: %d\n", concurrency)
	fmt.Printf("Running loadgen...\n")

	keys := generateKeys(numKeys, minKS, maxKS)
	batchSize := numKeys / concurrency

	start := time.Now()
	eg := &errgroup.Group{}
	for w := 0; w < concurrency; w++ {
		w := w
		eg.Go(func() error {
			lo, hi := w*batchSize, (w+1)*batchSize
			payload := []byte(randKey(minVS, maxVS))
			for i := lo; i < hi; i++ {
				if err := mgr.Store(dbName, keys[i], payload, 0); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	putSecs := time.Since(start).Seconds()
	fmt.Printf("Put: %.3f sec, %d ops/sec\n", putSecs, int(float64(numKeys)/putSecs))

	start = time.Now()
	eg = &errgroup.Group{}
	for w := 0; w < concurrency; w++ {
		w := w
		eg.Go(func() error {
			lo, hi := w*batchSize, (w+1)*batchSize
			for i := lo; i < hi; i++ {
				if _, _, err := mgr.Read(dbName, keys[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	getSecs := time.Since(start).Seconds()
	fmt.Printf("Get: %.3f sec, %d ops/sec\n", getSecs, int(float64(numKeys)/getSecs))

	printStats(mgr)
	return mgr.Close(dbName)
}

func main() {
	dir := flag.String("dir", ".", "directory to create the loadgen database manager root under")
	numKeys := flag.Int("keys", 10000, "number of keys to store and read")
	minKS := flag.Int("min-key-size", 8, "minimum key size")
	maxKS := flag.Int("max-key-size", 32, "maximum key size")
	minVS := flag.Int("min-val-size", 64, "minimum value size")
	maxVS := flag.Int("max-val-size", 256, "maximum value size")
	concurrency := flag.Int("concurrency", 8, "number of concurrent workers")
	flag.Parse()

	root := path.Join(*dir, "loadgen_root")
	if err := run(root, *numKeys, *minKS, *maxKS, *minVS, *maxVS, *concurrency); err != nil {
		fmt.Println("loadgen failed:", err)
	}
}
