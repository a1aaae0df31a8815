package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/linecache/cache"
	"github.com/sarchlab/linecache/device"
)

// ErrMismatch is returned when the device or the cache holds other bytes
// than the ones written.
var ErrMismatch = errors.New("data mismatch")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that cached writes reach the device.",
	Long: "`verify` fills the device through the cache from several workers " +
		"with write-back writes, closes the cache, and compares the raw " +
		"device bytes with what was written. It then checks that " +
		"invalidated ranges are fetched from the device again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		workers, _ := cmd.Flags().GetInt("workers")
		seed, _ := cmd.Flags().GetUint64("seed")

		if err := verify(s, workers, seed); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "verify: ok")

		return nil
	},
}

func init() {
	verifyCmd.Flags().Int("workers", 4, "number of concurrent writers")
	verifyCmd.Flags().Uint64("seed", 1, "random seed")
	rootCmd.AddCommand(verifyCmd)
}

func verify(s settings, workers int, seed uint64) error {
	if workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	d, release, err := s.openDevice()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	expected := make([]byte, s.Size)
	rng := rand.New(rand.NewPCG(seed, 0))
	for i := range expected {
		expected[i] = byte(rng.Uint32())
	}

	if err := verifyWriteBack(s, d, expected, workers, seed); err != nil {
		return err
	}

	return verifyInvalidate(s, d)
}

// verifyWriteBack writes expected through the cache in random chunks, each
// worker covering its own region, and checks the device after Close.
func verifyWriteBack(
	s settings,
	d device.Device,
	expected []byte,
	workers int,
	seed uint64,
) error {
	c, err := s.buildCache(d)
	if err != nil {
		return err
	}

	region := (s.Size + uint64(workers) - 1) / uint64(workers)

	var g errgroup.Group
	for worker := 0; worker < workers; worker++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seed, uint64(worker)+1))
			beg := min(uint64(worker)*region, s.Size)
			end := min(beg+region, s.Size)

			for addr := beg; addr < end; {
				n := min(1+rng.Uint64N(3*s.LineSize), end-addr)
				if _, err := c.Write(addr, expected[addr:addr+n], cache.WriteBack); err != nil {
					return err
				}

				addr += n
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = c.Close()
		return err
	}

	cached := make([]byte, s.Size)
	if _, err := c.Read(0, cached); err != nil {
		_ = c.Close()
		return err
	}

	if err := c.Close(); err != nil {
		return err
	}

	if i := firstDiff(cached, expected); i >= 0 {
		return fmt.Errorf("%w: cache differs at 0x%x", ErrMismatch, i)
	}

	raw, err := readAll(d, s.Size)
	if err != nil {
		return err
	}

	if i := firstDiff(raw, expected); i >= 0 {
		return fmt.Errorf("%w: device differs at 0x%x", ErrMismatch, i)
	}

	return nil
}

// verifyInvalidate checks that a read after an invalidation sees the device
// bytes instead of the stale cached copy.
func verifyInvalidate(s settings, d device.Device) error {
	c, err := s.buildCache(d)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	n := min(s.Size, 4*s.LineSize)
	buf := make([]byte, n)

	if _, err := c.Read(0, buf); err != nil {
		return err
	}

	if err := c.Invalidate(0, n); err != nil {
		return err
	}

	changed := bytes.Repeat([]byte{0xa5}, int(n))
	if _, err := d.WriteAt(changed, 0); err != nil {
		return err
	}

	if _, err := c.Read(0, buf); err != nil {
		return err
	}

	if !bytes.Equal(buf, changed) {
		return fmt.Errorf("%w: stale data after invalidation", ErrMismatch)
	}

	return nil
}

func readAll(d device.Device, size uint64) ([]byte, error) {
	buf := make([]byte, size)

	n, err := d.ReadAt(buf, 0)
	if err != nil {
		return nil, err
	}

	if uint64(n) != size {
		return nil, io.ErrUnexpectedEOF
	}

	return buf, nil
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}

	return -1
}
