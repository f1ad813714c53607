package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kayz/tavern/internal/ai"
	"github.com/kayz/tavern/internal/config"
	"github.com/kayz/tavern/internal/engine"
	"github.com/kayz/tavern/internal/lore"
	"github.com/kayz/tavern/internal/promptbuild"
	"github.com/kayz/tavern/internal/store"
)

// runtime bundles the wired engine with the collaborators the commands need
// to touch directly.
type runtime struct {
	exec   *engine.Executor
	active *store.ActiveCharacter
	st     *store.Store
}

func (r *runtime) Close() {
	r.st.Close()
}

const defaultCharacter = "assistant"

// buildRuntime wires store, lore, provider, resolver, and assembler into an
// executor according to the loaded config.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	st, err := store.NewStore(config.Resolve(cfg.Store.Path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	name := cfg.Store.Character
	if name == "" {
		name = defaultCharacter
	}
	active, err := store.Activate(ctx, st, name)
	if errors.Is(err, sql.ErrNoRows) {
		if _, serr := st.SaveCharacter(ctx, store.Character{Name: name}); serr != nil {
			st.Close()
			return nil, fmt.Errorf("create character %q: %w", name, serr)
		}
		active, err = store.Activate(ctx, st, name)
	}
	if err != nil {
		st.Close()
		return nil, err
	}

	reg, err := ai.LoadRegistry(config.Resolve(cfg.AI.ProvidersPath))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load providers: %w", err)
	}
	provider := reg.Default()
	if cfg.AI.Provider != "" {
		var ok bool
		provider, ok = reg.Get(cfg.AI.Provider)
		if !ok {
			st.Close()
			return nil, fmt.Errorf("unknown provider %q", cfg.AI.Provider)
		}
	}
	backend, err := ai.NewBackend(provider)
	if err != nil {
		st.Close()
		return nil, err
	}

	tok := ai.Estimator{CharsPerToken: cfg.AI.CharsPerToken}

	var loreResolver promptbuild.LoreResolver
	if len(cfg.Lore.Books) > 0 {
		paths := make([]string, len(cfg.Lore.Books))
		for i, p := range cfg.Lore.Books {
			paths[i] = config.Resolve(p)
		}
		lr, err := lore.LoadResolver(tok, paths...)
		if err != nil {
			st.Close()
			return nil, err
		}
		loreResolver = lr
	}

	resolver := promptbuild.NewResolver(active, active, loreResolver, cfg.Prompt.MaxContext)
	assembler := promptbuild.NewAssembler(promptbuild.AssemblerConfig{
		MaxContext:   cfg.Prompt.MaxContext,
		MaxReply:     cfg.Prompt.MaxReply,
		SquashSystem: cfg.Prompt.SquashSystem,
	}, tok, promptbuild.DefaultComposer{}, active)

	var auditor *promptbuild.Auditor
	if cfg.Audit.Enabled {
		auditCfg := cfg.Audit
		auditCfg.Dir = config.Resolve(auditCfg.Dir)
		auditor = promptbuild.NewAuditor(auditCfg)
	}

	exec := engine.New(backend, resolver, assembler, auditor, engine.Config{
		MaxReply:        cfg.Prompt.MaxReply,
		FlushInterval:   time.Duration(cfg.Prompt.FlushInterval) * time.Millisecond,
		StoppingStrings: cfg.Prompt.StoppingStrings,
	})

	return &runtime{exec: exec, active: active, st: st}, nil
}
