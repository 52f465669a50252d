package infra

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"paygate-gateway/middleware/ratelimit/domain"
)

// reloadDebounce agrupa as várias escritas que um editor faz ao salvar.
const reloadDebounce = 100 * time.Millisecond

// WatchPolicyFile observa o arquivo de políticas e chama onChange a cada alteração.
//
// Observa o diretório (e não o arquivo) para sobreviver a saves por rename.
// Um arquivo inválido, ou um onChange que devolve erro, é só logado: a tabela
// em uso continua valendo. Bloqueia até ctx encerrar.
func WatchPolicyFile(ctx context.Context, path string, logger *slog.Logger, onChange func(domain.PolicyConfig) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve policy path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			cfg, err := LoadPolicyFile(abs)
			if err != nil {
				logger.Error("policy reload rejected, keeping current table", "path", abs, "error", err)
				continue
			}
			if err := onChange(cfg); err != nil {
				logger.Error("policy reload rejected, keeping current table", "path", abs, "error", err)
				continue
			}
			logger.Info("policy table reloaded", "path", abs, "routes", len(cfg.Routes))

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("policy watcher error", "error", err)
		}
	}
}
