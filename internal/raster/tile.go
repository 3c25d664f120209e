package raster

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultTileSize is the edge length, in pixels, of a processing tile.
const DefaultTileSize = 256

// Tile is a half-open rectangular block [X0, X1) × [Y0, Y1) of a grid.
type Tile struct {
	X0, Y0, X1, Y1 int
}

// Pixels returns the number of pixels in t.
func (t Tile) Pixels() int { return (t.X1 - t.X0) * (t.Y1 - t.Y0) }

// Tiles partitions a width × height grid into tiles of at most size × size,
// ordered row-major.
func Tiles(width, height, size int) []Tile {
	if size <= 0 {
		size = DefaultTileSize
	}
	var out []Tile
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			out = append(out, Tile{
				X0: x,
				Y0: y,
				X1: min(x+size, width),
				Y1: min(y+size, height),
			})
		}
	}
	return out
}

// TileOptions controls tile-parallel execution.
type TileOptions struct {
	Size    int // tile edge length; default DefaultTileSize
	Workers int // concurrent tiles; default GOMAXPROCS
}

func (o TileOptions) withDefaults() TileOptions {
	if o.Size <= 0 {
		o.Size = DefaultTileSize
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// ForEachTile runs fn once per tile of the grid with at most opts.Workers
// tiles in flight. fn receives the worker slot it runs in so callers can keep
// one scratch buffer per slot. Tiles never overlap, so fn may write its own
// tile's positions of a shared output plane without locking.
func ForEachTile(ctx context.Context, width, height int, opts TileOptions, fn func(ctx context.Context, slot int, t Tile) error) error {
	opts = opts.withDefaults()
	tiles := Tiles(width, height, opts.Size)

	slots := make(chan int, opts.Workers)
	for i := range opts.Workers {
		slots <- i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, t := range tiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slot := <-slots
			defer func() { slots <- slot }()
			return fn(gctx, slot, t)
		})
	}
	return g.Wait()
}

// WorkerCount returns the worker count ForEachTile would use for opts.
func (o TileOptions) WorkerCount() int { return o.withDefaults().Workers }
