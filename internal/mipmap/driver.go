package mipmap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hoogenboom-lab/render-pipeline/internal/geom"
	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

// ErrRemotePathViolation is returned when an ingested path does not sit
// under the configured NAS prefix (spec §7 "Remote-path-violation").
var ErrRemotePathViolation = errors.New("mipmap: output path not under configured NAS prefix")

// IngestAdaptor supplies the source-specific halves of the mipmap pipeline:
// discovering work items and turning one item into its Tile records (spec
// §4.E, §9 "a MipmapDriver parameterised by an IngestAdaptor").
type IngestAdaptor interface {
	// FindFiles enumerates every work item for this ingest run.
	FindFiles(ctx context.Context) ([]WorkItem, error)
	// CreateMipmaps produces the Tile(s) for one work item, including
	// building and writing its pyramid via BuildPyramid.
	CreateMipmaps(ctx context.Context, item WorkItem) ([]*geom.Tile, error)
}

// WorkItem is an opaque per-adaptor unit of ingest work (one raw file, one
// multi-page OME-TIFF, etc).
type WorkItem interface{}

// sectionKey groups tiles into sections by (stack name, z).
type sectionKey struct {
	stackName string
	z         int
}

// Run drives the common mipmap pipeline (spec §4.E steps 1-5): submit every
// work item to the I/O pool, accumulate resulting tiles into Sections keyed
// by (stack_name, z_value), then seal every Section in ascending z order
// and assemble Stacks.
func Run(ctx context.Context, adaptor IngestAdaptor, cfg pipelinecfg.MipmapConfig, reporter workpool.Reporter) ([]*geom.Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	items, err := adaptor.FindFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("mipmap: finding files: %w", err)
	}

	var mu sync.Mutex
	sections := make(map[sectionKey]*geom.Section)

	pool := workpool.New(cfg.Parallel, reporter)
	tasks := make([]workpool.Task, len(items))
	for i, item := range items {
		item := item
		tasks[i] = func(ctx context.Context) error {
			tiles, err := adaptor.CreateMipmaps(ctx, item)
			if err != nil {
				return err
			}
			if err := remapTilePaths(tiles, cfg.NASPrefix, cfg.RemotePrefix); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, t := range tiles {
				key := sectionKey{stackName: t.StackName, z: t.ZValue}
				sec, ok := sections[key]
				if !ok {
					sec = geom.NewSection(t.StackName, t.ZValue)
					sections[key] = sec
				}
				if err := sec.Add(t); err != nil {
					return fmt.Errorf("mipmap: adding tile to section (%s, z=%d): %w", t.StackName, t.ZValue, err)
				}
			}
			return nil
		}
	}
	if err := pool.Run(ctx, tasks); err != nil {
		return nil, err
	}

	return assembleStacks(sections)
}

// assembleStacks groups sealed sections by stack name, sealing each in
// ascending z order before appending it to its stack (spec §4.E step 4).
func assembleStacks(sections map[sectionKey]*geom.Section) ([]*geom.Stack, error) {
	byStack := make(map[string][]*geom.Section)
	for key, sec := range sections {
		byStack[key.stackName] = append(byStack[key.stackName], sec)
	}

	var stackNames []string
	for name := range byStack {
		stackNames = append(stackNames, name)
	}
	sort.Strings(stackNames)

	stacks := make([]*geom.Stack, 0, len(stackNames))
	for _, name := range stackNames {
		secs := byStack[name]
		sort.Slice(secs, func(i, j int) bool { return secs[i].ZValue < secs[j].ZValue })

		stack := geom.NewStack(name)
		for _, sec := range secs {
			if err := sec.Seal(); err != nil {
				return nil, fmt.Errorf("mipmap: sealing section z=%d of stack %q: %w", sec.ZValue, name, err)
			}
			if err := stack.AddSection(sec); err != nil {
				return nil, fmt.Errorf("mipmap: adding section z=%d to stack %q: %w", sec.ZValue, name, err)
			}
		}
		stacks = append(stacks, stack)
	}
	return stacks, nil
}

// remapTilePaths rewrites every tile's pyramid URLs from a local NAS mount
// path to the server-visible prefix, preserving any "#level" fragment
// BuildPyramid appends for levels beyond 0. A no-op when nasPrefix is empty.
func remapTilePaths(tiles []*geom.Tile, nasPrefix, remotePrefix string) error {
	if nasPrefix == "" {
		return nil
	}
	const scheme = "file://"
	for _, t := range tiles {
		for level, url := range t.Pyramid {
			rest := strings.TrimPrefix(url, scheme)
			path, fragment, _ := strings.Cut(rest, "#")
			remapped, err := RemapPath(path, nasPrefix, remotePrefix)
			if err != nil {
				return fmt.Errorf("mipmap: remapping tile %s level %d: %w", t.ID, level, err)
			}
			if fragment != "" {
				remapped += "#" + fragment
			}
			t.Pyramid[level] = remapped
		}
	}
	return nil
}
