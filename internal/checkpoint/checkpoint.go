// Package checkpoint stores generator and discriminator snapshots in
// model_save_dir as <iter>-G.ckpt and <iter>-D.ckpt.
//
// File layout:
//   - 4 bytes magic/version: 'S', 'G', major, minor
//   - msgpack body with the iteration and the network state, optimizer
//     moments included
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ChizhovVadim/StarganVC/internal/nn"
)

const (
	versionMajor = 1
	versionMinor = 0
	ext          = ".ckpt"
)

var ErrNotFound = errors.New("checkpoint: not found")

type Kind string

const (
	Generator     Kind = "G"
	Discriminator Kind = "D"
)

type body struct {
	Iteration int             `msgpack:"iteration"`
	Network   nn.NetworkState `msgpack:"network"`
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path(iteration int, kind Kind) string {
	return filepath.Join(s.dir, fmt.Sprintf("%v-%v%v", iteration, kind, ext))
}

// Save writes to a temporary file in the same directory and renames it, so
// a checkpoint file is either complete or absent.
func (s *Store) Save(iteration int, kind Kind, state *nn.NetworkState) error {
	f, err := os.CreateTemp(s.dir, fmt.Sprintf(".%v-%v-*.tmp", iteration, kind))
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	var tmp = f.Name()
	if err := write(f, &body{Iteration: iteration, Network: *state}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: write %v: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.Path(iteration, kind)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func write(w io.Writer, b *body) error {
	var bw = bufio.NewWriter(w)
	if _, err := bw.Write([]byte{'S', 'G', versionMajor, versionMinor}); err != nil {
		return err
	}
	if err := msgpack.NewEncoder(bw).Encode(b); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *Store) Load(iteration int, kind Kind) (nn.NetworkState, error) {
	var path = s.Path(iteration, kind)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nn.NetworkState{}, fmt.Errorf("%w: %v", ErrNotFound, path)
		}
		return nn.NetworkState{}, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	var r = bufio.NewReader(f)
	var header = make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nn.NetworkState{}, fmt.Errorf("checkpoint: %v: %w", path, err)
	}
	if header[0] != 'S' || header[1] != 'G' {
		return nn.NetworkState{}, fmt.Errorf("checkpoint: %v: magic word does not match", path)
	}
	if header[2] != versionMajor {
		return nn.NetworkState{}, fmt.Errorf("checkpoint: %v: unsupported version %v.%v", path, header[2], header[3])
	}
	var b body
	if err := msgpack.NewDecoder(r).Decode(&b); err != nil {
		return nn.NetworkState{}, fmt.Errorf("checkpoint: decode %v: %w", path, err)
	}
	if b.Iteration != iteration {
		return nn.NetworkState{}, fmt.Errorf("checkpoint: %v holds iteration %v", path, b.Iteration)
	}
	return b.Network, nil
}

// Latest returns the highest iteration for which both networks are saved.
func (s *Store) Latest() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	var found = make(map[int]int)
	for _, de := range entries {
		var name = de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		var iter, kind, ok = strings.Cut(strings.TrimSuffix(name, ext), "-")
		if !ok || (Kind(kind) != Generator && Kind(kind) != Discriminator) {
			continue
		}
		n, err := strconv.Atoi(iter)
		if err != nil {
			continue
		}
		found[n]++
	}
	var best = -1
	for n, count := range found {
		if count == 2 && n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, ErrNotFound
	}
	return best, nil
}
