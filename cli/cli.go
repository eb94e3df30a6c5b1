// Package cli implements the client subcommands: upload photos to the
// server, then list, show, delete and retitle the local trip.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"photo-map/client"
	"photo-map/config"
	"photo-map/render"
)

// Commands lists the subcommands Run understands.
var Commands = []string{"upload", "list", "show", "all", "delete", "title"}

// App carries what every subcommand needs.
type App struct {
	Config config.Config
	Log    *zap.Logger
	In     io.Reader
	Out    io.Writer
}

// IsCommand reports whether name is a client subcommand.
func IsCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}

// Run executes the subcommand named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given, expected one of %s", strings.Join(Commands, ", "))
	}

	store, err := client.OpenSQLite(ctx, a.Config.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	vp := &render.Viewport{}
	engine := render.NewEngine(store, vp, nil, a.Log)
	if err := engine.OnStart(ctx); err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "upload":
		return a.upload(ctx, engine, rest)
	case "list":
		printView(a.Out, engine.View())
		return nil
	case "show":
		return a.show(engine, vp, rest)
	case "all":
		return a.showAll(engine, vp)
	case "delete":
		return a.delete(ctx, engine, rest)
	case "title":
		return a.title(ctx, engine, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) upload(ctx context.Context, engine *render.Engine, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(a.Out)
	server := fs.String("server", a.Config.ServerURL, "ingestion server base URL")
	workers := fs.Int("workers", a.Config.Workers, "concurrent uploads")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("upload: no files given")
	}

	a.Log.Info("uploading photos", zap.Int("count", fs.NArg()), zap.String("server", *server))
	uploader := client.NewUploader(*server, *workers, a.Log)
	results := uploader.UploadAll(ctx, fs.Args())

	report, err := engine.OnUploadComplete(ctx, results)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Added %d photo(s).\n", report.Added)
	if notice := report.Notice(); notice != "" {
		fmt.Fprintln(a.Out, notice)
	}
	printView(a.Out, engine.View())
	return nil
}

func (a *App) show(engine *render.Engine, vp *render.Viewport, args []string) error {
	id, err := photoID("show", args)
	if err != nil {
		return err
	}

	if err := engine.Select(id); err != nil {
		if errors.Is(err, render.ErrNoLocation) {
			fmt.Fprintln(a.Out, render.Notice(err))
			return nil
		}
		return err
	}

	state := vp.State()
	fmt.Fprintf(a.Out, "Map centered on %s at zoom %d\n", state.Center, state.Zoom)
	if m, ok := engine.Marker(state.OpenPopup); ok {
		fmt.Fprintf(a.Out, "  %s\n  %s\n  %s\n", m.Popup.Date, m.Popup.Location, m.Popup.ImageURL)
	}
	return nil
}

func (a *App) showAll(engine *render.Engine, vp *render.Viewport) error {
	if err := engine.ShowAll(); err != nil {
		if errors.Is(err, render.ErrNothingToShow) {
			fmt.Fprintln(a.Out, render.Notice(err))
			return nil
		}
		return err
	}
	state := vp.State()
	fmt.Fprintf(a.Out, "Map fitted to %d marker(s): %s to %s (padding %d)\n",
		len(state.Markers), state.Fitted.SouthWest, state.Fitted.NorthEast, state.Padding)
	return nil
}

func (a *App) delete(ctx context.Context, engine *render.Engine, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(a.Out)
	yes := fs.Bool("yes", false, "delete without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := photoID("delete", fs.Args())
	if err != nil {
		return err
	}

	var confirm render.Confirmer = a.prompt()
	if *yes {
		confirm = render.ConfirmFunc(func(string) bool { return true })
	}

	deleted, err := engine.Delete(ctx, id, confirm)
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Fprintln(a.Out, "Nothing deleted.")
		return nil
	}
	a.Log.Info("photo deleted", zap.Int64("id", id))
	fmt.Fprintf(a.Out, "Deleted photo %d.\n", id)
	printView(a.Out, engine.View())
	return nil
}

func (a *App) title(ctx context.Context, engine *render.Engine, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.Out, engine.View().Title)
		return nil
	}
	if err := engine.SetTitle(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Fprintln(a.Out, engine.View().Title)
	return nil
}

// prompt asks on Out and reads a y/yes answer from In.
func (a *App) prompt() render.ConfirmFunc {
	return func(question string) bool {
		fmt.Fprintf(a.Out, "%s [y/N] ", question)
		if a.In == nil {
			return false
		}
		answer, _ := bufio.NewReader(a.In).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

func photoID(cmd string, args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected exactly one photo id", cmd)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid photo id %q", cmd, args[0])
	}
	return id, nil
}

func printView(w io.Writer, view render.View) {
	fmt.Fprintln(w, view.Title)
	if view.DateRange != "" {
		fmt.Fprintln(w, view.DateRange)
	}
	if len(view.Sections) == 0 {
		fmt.Fprintln(w, "No photos yet.")
		return
	}
	for _, s := range view.Sections {
		fmt.Fprintf(w, "\n%s\n", s.Header)
		for _, e := range s.Entries {
			where := "no location"
			if !e.MapInert {
				where = e.Position.String()
			}
			fmt.Fprintf(w, "  [%d] %s  %s  (%s)  %s\n",
				e.ID, e.Timestamp.Format("15:04"), e.LocationName, where, e.ImageURL)
		}
	}
}
