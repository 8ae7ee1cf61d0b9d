package habitat

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// incarnationSource yields the next configuration version for a service
// group
type incarnationSource interface {
	NextIncarnation(ctx context.Context, id ServiceIdentity) (uint64, error)
}

// Applier renders a configuration tree to TOML and submits it to the
// supervisor under the next incarnation number
type Applier struct {
	// TempDir is where rendered files are written, os.TempDir() if empty
	TempDir string

	// KeepFiles leaves rendered files in place after the apply
	KeepFiles bool

	lifecycle    *Lifecycle
	incarnations incarnationSource
	logger       zerolog.Logger
}

// NewApplier creates an Applier that reads incarnations from probe and
// submits through lifecycle
func NewApplier(lifecycle *Lifecycle, probe *Probe, logger zerolog.Logger) *Applier {
	return &Applier{
		lifecycle:    lifecycle,
		incarnations: probe,
		logger:       logger,
	}
}

// Apply writes tree to a fresh file and runs `hab config apply` with the
// next incarnation
func (a *Applier) Apply(ctx context.Context, id ServiceIdentity, tree Tree) (Outcome, error) {
	data, err := RenderTOML(tree)
	if err != nil {
		return Outcome{}, &OpError{Op: OpConfigApply, Target: id.ServiceGroup(), Err: err}
	}

	path, err := a.writeFile(id, data)
	if err != nil {
		return Outcome{}, &OpError{Op: OpConfigApply, Target: id.ServiceGroup(), Err: err}
	}
	if !a.KeepFiles {
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				a.logger.Warn().Err(err).Str("file", path).Msg("removing rendered config")
			}
		}()
	}

	incarnation, err := a.incarnations.NextIncarnation(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	a.logger.Info().
		Str("group", id.ServiceGroup()).
		Uint64("incarnation", incarnation).
		Str("file", path).
		Msg("applying configuration")

	if err := a.lifecycle.ApplyConfig(ctx, id, incarnation, path); err != nil {
		return Outcome{}, err
	}

	return Outcome{Changed: true, Message: id.ServiceGroup() + " updated"}, nil
}

func (a *Applier) writeFile(id ServiceIdentity, data []byte) (string, error) {
	dir := a.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("hab-%s-%s.toml", id.ServiceGroup(), uuid.NewString())
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, data, ConfigFileMode); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// RenderTOML encodes a tree as a TOML document with nested tables
func RenderTOML(tree Tree) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tree.ToMap()); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
