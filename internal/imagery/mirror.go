package imagery

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover-cli/internal/fetcher"
)

// MirrorResult summarizes a Mirror call.
type MirrorResult struct {
	Scenes int
	Bytes  int64
}

// Mirror downloads the catalog at catalogURL and every scene file it lists
// into destDir, producing a directory archive readable by OpenDir. Relative
// scene paths resolve against the catalog URL. Scene files already present
// in destDir are not downloaded again.
func Mirror(ctx context.Context, f fetcher.Fetcher, catalogURL, destDir string, concurrency int) (*MirrorResult, error) {
	log := zap.L().With(zap.String("component", "imagery.mirror"), zap.String("catalog", catalogURL))

	body, err := f.Download(ctx, catalogURL)
	if err != nil {
		return nil, eris.Wrap(err, "imagery: download catalog")
	}
	data, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return nil, eris.Wrap(err, "imagery: read catalog")
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrap(err, "imagery: decode catalog")
	}

	base, err := url.Parse(catalogURL)
	if err != nil {
		return nil, eris.Wrap(err, "imagery: parse catalog url")
	}

	if concurrency <= 0 {
		concurrency = 4
	}
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	// Every entry is mapped before any download starts.
	locals := make([]string, len(cat.Scenes))
	for i, e := range cat.Scenes {
		local, err := localSceneFile(e.File)
		if err != nil {
			return nil, eris.Wrapf(err, "imagery: scene %s", e.ID)
		}
		locals[i] = local
	}

	for i := range cat.Scenes {
		e := cat.Scenes[i]
		cat.Scenes[i].File = locals[i]
		dst := filepath.Join(destDir, filepath.FromSlash(locals[i]))
		if _, statErr := os.Stat(dst); statErr == nil {
			log.Debug("scene already mirrored", zap.String("scene", e.ID))
			continue
		}

		src := resolveSceneURL(base, e.File)
		g.Go(func() error {
			n, err := f.DownloadToFile(gctx, src, dst)
			if err != nil {
				return eris.Wrapf(err, "imagery: mirror scene %s", e.ID)
			}
			total.Add(n)
			log.Debug("mirrored scene", zap.String("scene", e.ID), zap.Int64("bytes", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "imagery: create mirror dir")
	}
	out, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "imagery: encode catalog")
	}
	if err := os.WriteFile(filepath.Join(destDir, CatalogFile), out, 0o644); err != nil {
		return nil, eris.Wrap(err, "imagery: write catalog")
	}

	res := &MirrorResult{Scenes: len(cat.Scenes), Bytes: total.Load()}
	log.Info("mirror complete", zap.Int("scenes", res.Scenes), zap.Int64("bytes", res.Bytes))
	return res, nil
}

// localSceneFile maps a catalog file reference to a relative path inside the
// mirror. Absolute URLs keep only their final path element.
func localSceneFile(file string) (string, error) {
	u, err := url.Parse(file)
	if err != nil {
		return "", eris.Wrap(err, "parse scene file")
	}
	if u.IsAbs() {
		return path.Join("scenes", path.Base(u.Path)), nil
	}
	clean := path.Clean(strings.TrimPrefix(u.Path, "/"))
	if clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", eris.Errorf("scene file %q escapes archive", file)
	}
	return clean, nil
}

func resolveSceneURL(base *url.URL, file string) string {
	ref, err := url.Parse(file)
	if err != nil {
		return file
	}
	return base.ResolveReference(ref).String()
}
