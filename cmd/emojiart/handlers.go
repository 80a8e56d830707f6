package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"emojiart-server/background"
	"emojiart-server/emojiart"
	"emojiart-server/middleware"
)

type fetchOptions struct {
	timeout  time.Duration
	maxBytes int64
	retries  uint
	fileRoot string
}

func readDocument(path string) (emojiart.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return emojiart.Document{}, err
	}
	doc, err := emojiart.Decode(data)
	if err != nil {
		return emojiart.Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// writeDocument replaces path through a temporary file in the same directory.
func writeDocument(path string, doc emojiart.Document) error {
	data, err := doc.MarshalBinary()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// editDocument applies fn to the snapshot at path and writes the result back.
func editDocument(path string, fn func(emojiart.Document) (emojiart.Document, error)) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	doc, err = fn(doc)
	if err != nil {
		return err
	}
	if err := writeDocument(path, doc); err != nil {
		return err
	}
	logrus.WithField("path", path).Info("Document updated successfully")
	return nil
}

// glyphAbsent reports a missing glyph id. Edits of an absent glyph change
// nothing, so the file is left untouched.
func glyphAbsent(cmd *cobra.Command, path string, id int) bool {
	doc, err := readDocument(path)
	if err != nil {
		return false
	}
	if _, ok := doc.Glyph(id); ok {
		return false
	}
	fmt.Fprintf(cmd.OutOrStdout(), "No glyph %d, nothing changed.\n", id)
	return true
}

func runNew(cmd *cobra.Command, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := writeDocument(path, emojiart.New()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

func runShow(cmd *cobra.Command, path string, asJSON bool) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		data, err := doc.MarshalBinary()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Background: %s\n", describeBackground(doc.Background()))
	fmt.Fprintf(out, "Next id:    %d\n", doc.NextID())
	if doc.Len() == 0 {
		fmt.Fprintln(out, "No glyphs.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGLYPH\tX\tY\tSIZE")
	for _, g := range doc.Glyphs() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", g.ID, g.Content, g.X, g.Y, g.Size)
	}
	return w.Flush()
}

func describeBackground(bg emojiart.Background) string {
	switch bg.Kind() {
	case emojiart.ImageBytes:
		return fmt.Sprintf("inline image (%d bytes)", len(bg.ImageData()))
	case emojiart.RemoteImage:
		return bg.Locator()
	default:
		return "blank"
	}
}

func runAdd(cmd *cobra.Command, path, content string, x, y, size int) error {
	var id int
	err := editDocument(path, func(doc emojiart.Document) (emojiart.Document, error) {
		var err error
		doc, id, err = doc.AddGlyph(content, x, y, size)
		return doc, err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added glyph %d\n", id)
	return nil
}

func runRemove(cmd *cobra.Command, path string, id int) error {
	if glyphAbsent(cmd, path, id) {
		return nil
	}
	err := editDocument(path, func(doc emojiart.Document) (emojiart.Document, error) {
		return doc.RemoveGlyph(id), nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed glyph %d\n", id)
	return nil
}

func runMove(cmd *cobra.Command, path string, id, dx, dy int) error {
	if glyphAbsent(cmd, path, id) {
		return nil
	}
	var g emojiart.Glyph
	err := editDocument(path, func(doc emojiart.Document) (emojiart.Document, error) {
		doc = doc.MoveGlyph(id, dx, dy)
		g, _ = doc.Glyph(id)
		return doc, nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Glyph %d at (%d, %d)\n", id, g.X, g.Y)
	return nil
}

func runScale(cmd *cobra.Command, path string, id int, factor float64) error {
	if glyphAbsent(cmd, path, id) {
		return nil
	}
	var g emojiart.Glyph
	err := editDocument(path, func(doc emojiart.Document) (emojiart.Document, error) {
		doc = doc.ScaleGlyph(id, factor)
		g, _ = doc.Glyph(id)
		return doc, nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Glyph %d size %d\n", id, g.Size)
	return nil
}

func runBackgroundBlank(cmd *cobra.Command, path string) error {
	return setBackground(cmd, path, emojiart.BlankBackground())
}

func runBackgroundURL(cmd *cobra.Command, path, locator string) error {
	return setBackground(cmd, path, emojiart.RemoteBackground(locator))
}

func runBackgroundFile(cmd *cobra.Command, path, imagePath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	if _, err := (background.ImageDecoder{}).Decode(data); err != nil {
		return fmt.Errorf("%s: %w", imagePath, err)
	}
	return setBackground(cmd, path, emojiart.ImageBackground(data))
}

func setBackground(cmd *cobra.Command, path string, bg emojiart.Background) error {
	err := editDocument(path, func(doc emojiart.Document) (emojiart.Document, error) {
		return doc.SetBackground(bg), nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Background: %s\n", describeBackground(bg))
	return nil
}

// runFetch resolves the background the way an open document would and
// reports the decoded image.
func runFetch(cmd *cobra.Command, path string, opts fetchOptions) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	bg := doc.Background()
	out := cmd.OutOrStdout()

	var data []byte
	switch bg.Kind() {
	case emojiart.Blank:
		fmt.Fprintln(out, "Background is blank, nothing to fetch.")
		return nil
	case emojiart.ImageBytes:
		data = bg.ImageData()
	case emojiart.RemoteImage:
		router := background.NewDefaultRouter(background.Options{
			HTTPClient: &http.Client{Timeout: opts.timeout},
			MaxBytes:   opts.maxBytes,
			MaxTries:   opts.retries,
			FileRoot:   opts.fileRoot,
		})
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()

		started := time.Now()
		data, err = router.Fetch(ctx, bg.Locator())
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"locator":  bg.Locator(),
			"bytes":    len(data),
			"duration": time.Since(started),
		}).Info("Background fetched successfully")
	}

	img, err := (background.ImageDecoder{}).Decode(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %dx%d (%d bytes)\n", img.Format, img.Width, img.Height, len(img.Encoded))
	return nil
}

func runToken(cmd *cobra.Command, secret, subject, name string, ttl time.Duration) error {
	if secret == "" {
		return errors.New("a signing secret is required (--secret or JWT_SECRET)")
	}
	token, err := middleware.CreateJWT([]byte(secret), subject, name, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
