package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LoadUtterances reads all feature files of folder on workers goroutines.
// When speakers is not empty only files of those speakers are read.
func LoadUtterances(
	ctx context.Context,
	logger *slog.Logger,
	folder string,
	workers int,
	speakers ...string,
) ([]Utterance, error) {
	paths, err := featureFiles(folder, speakers)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("dataset: no %v files in %v", FeatureExt, folder)
	}

	g, ctx := errgroup.WithContext(ctx)

	var input = make(chan string, 64)
	var results = make(chan Utterance, 64)

	g.Go(func() error {
		defer close(input)
		for _, path := range paths {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case input <- path:
			}
		}
		return nil
	})

	var wg = &sync.WaitGroup{}
	for i := 0; i < max(1, workers); i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return readUtterances(ctx, input, results)
		})
	}

	g.Go(func() error {
		wg.Wait()
		close(results)
		return nil
	})

	var utterances []Utterance
	g.Go(func() error {
		for u := range results {
			utterances = append(utterances, u)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(utterances, func(a, b Utterance) int {
		return strings.Compare(a.Name, b.Name)
	})
	logger.Info("loaded utterances",
		"folder", folder,
		"count", len(utterances))
	return utterances, nil
}

func readUtterances(
	ctx context.Context,
	input <-chan string,
	results chan<- Utterance,
) error {
	for path := range input {
		u, err := ReadUtterance(path)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case results <- u:
		}
	}
	return nil
}

func featureFiles(folder string, speakers []string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	var result []string
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != FeatureExt {
			continue
		}
		if len(speakers) != 0 {
			var id, ok = SpeakerFromFilename(de.Name())
			if !ok || !slices.Contains(speakers, id) {
				continue
			}
		}
		result = append(result, filepath.Join(folder, de.Name()))
	}
	return result, nil
}
