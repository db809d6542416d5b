package main

import (
	"context"
	"fmt"
	"io"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/service"
)

// seedBook is one entry of the catalog file:
//
//	books:
//	  - title: Kindred
//	    author: Octavia E. Butler
//	    category: Fiction
//	    copies: 3
type seedBook struct {
	Title       string `koanf:"title"`
	Author      string `koanf:"author"`
	Category    string `koanf:"category"`
	Language    string `koanf:"language"`
	Description string `koanf:"description"`
	ImageURL    string `koanf:"image_url"`
	Copies      int    `koanf:"copies"`
}

func (a *app) seedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add the books listed in a YAML catalog file",
		Long: "Adds every book of the catalog file with its copies. Books whose title is " +
			"already in the catalog are skipped, so seeding twice is harmless.",
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := loadCatalog(path)
			if err != nil {
				return err
			}
			svc, store, err := a.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			added, skipped, err := seedCatalog(cmd.Context(), svc, books, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%d added, %d skipped\n", added, skipped)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "catalog.yaml", "catalog YAML file")
	return cmd
}

func loadCatalog(path string) ([]seedBook, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var books []seedBook
	if err := k.Unmarshal("books", &books); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("%s lists no books", path)
	}
	return books, nil
}

// seedCatalog adds books in file order and stops at the first failure.
func seedCatalog(ctx context.Context, svc *service.Services, books []seedBook, out io.Writer) (added, skipped int, err error) {
	for _, b := range books {
		if _, err := svc.Catalog.FindBookByTitle(b.Title); err == nil {
			fmt.Fprintf(out, "skip  %s (already in catalog)\n", b.Title)
			skipped++
			continue
		} else if apperror.Kind(err) != apperror.CodeNotFound {
			return added, skipped, err
		}

		book, copies, err := svc.Books.AddBook(ctx, service.BookInput{
			Title:       b.Title,
			Author:      b.Author,
			Category:    b.Category,
			Language:    b.Language,
			Description: b.Description,
			ImageURL:    b.ImageURL,
		}, b.Copies)
		if err != nil {
			return added, skipped, fmt.Errorf("adding %q: %w", b.Title, err)
		}
		fmt.Fprintf(out, "add   %s (%s, %d copies)\n", book.Title, book.ID, len(copies))
		added++
	}
	return added, skipped, nil
}
