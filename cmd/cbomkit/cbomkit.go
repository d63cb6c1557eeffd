package main

import (
	"context"
	"fmt"
	"os"

	"github.com/PQCA/cbomkit-go/internal/bom"
	"github.com/PQCA/cbomkit-go/internal/bus"
	"github.com/PQCA/cbomkit-go/internal/gitclone"
	"github.com/PQCA/cbomkit-go/internal/index"
	"github.com/PQCA/cbomkit-go/internal/model"
	"github.com/PQCA/cbomkit-go/internal/pkgfind"
	"github.com/PQCA/cbomkit-go/internal/progress"
	"github.com/PQCA/cbomkit-go/internal/resolve"
	"github.com/PQCA/cbomkit-go/internal/scanner"
	"github.com/PQCA/cbomkit-go/internal/scanning"
	"github.com/PQCA/cbomkit-go/internal/store"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/package-url/packageurl-go"
	"github.com/spf13/cobra"
)

// wire assembles the bus, repository and all pipeline collaborators. The bus
// reference is injected into the independent handlers here, once, at
// process start.
func wire(ctx context.Context, dispatcher progress.Dispatcher) (*bus.Bus, *store.Store, error) {
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	scanners, err := scanner.NewFactory()
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	resolvers := resolve.NewSelector(cfg.DepsDevURL)
	cloner := gitclone.New(cfg.CloneDir)

	b := bus.New()
	deps := scanning.Deps{
		Bus:        b,
		Repository: st,
		Progress:   dispatcher,
		ResolverFor: func(purl packageurl.PackageURL) scanning.Resolver {
			return resolvers.For(purl)
		},
		Clone: func(
			ctx context.Context,
			id model.ScanID,
			url model.GitURL,
			revision model.Revision,
			commit model.Commit,
			creds *model.Credentials,
		) (scanning.CloneResult, error) {
			result, err := cloner.Clone(ctx, id, url, revision, commit, creds)
			if err != nil {
				return scanning.CloneResult{}, err
			}
			return scanning.CloneResult{Dir: result.Dir, Commit: result.Commit}, nil
		},
		FindersFor: func(root string, purl packageurl.PackageURL) []scanning.Finder {
			finders := pkgfind.Selector{}.For(root, purl)
			out := make([]scanning.Finder, 0, len(finders))
			for _, f := range finders {
				out = append(out, f)
			}
			return out
		},
		IndexerFor: func(lang model.Language, dir string) scanning.Indexer {
			return index.Factory{}.For(lang, dir)
		},
		ScannerFor: func(lang model.Language, dir string) scanning.Scanner {
			return scanners.For(lang, dir)
		},
	}

	b.Register(scanning.NewRequestHandler(deps), scanning.TypeRequestScan)
	b.Register(scanning.NewDeleteCBOMHandler(st), scanning.TypeDeleteCBOM)
	return b, st, nil
}

func doScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var dispatcher progress.Dispatcher = progress.NewWriter(os.Stdout)
	if flagQuiet {
		dispatcher = progress.Empty{}
	}

	b, st, err := wire(ctx, dispatcher)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	var creds *model.Credentials
	if flagUsername != "" || flagToken != "" {
		creds = &model.Credentials{Username: flagUsername, Token: flagToken}
	}

	id := model.NewScanID()
	err = b.Send(ctx, &scanning.RequestScanCommand{
		ID:          id,
		Input:       args[0],
		Branch:      flagBranch,
		Subfolder:   flagSubfolder,
		Credentials: creds,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "scan %s finished\n", id)
	return nil
}

func doShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	agg, err := st.Read(ctx, model.ScanID(args[0]))
	if err != nil {
		return err
	}

	var merged *cdx.BOM
	for _, scan := range agg.LanguageScans() {
		merged = bom.Merge(merged, scan.CBOM)
	}
	if merged == nil {
		return fmt.Errorf("scan %s: %w", agg.ID(), model.ErrNoCBOM)
	}
	return bom.AsJSON(merged, os.Stdout)
}

func doDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, st, err := wire(ctx, progress.Empty{})
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	return b.Send(ctx, &scanning.DeleteCBOMCommand{ID: model.ScanID(args[0])})
}
