package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"csfdsync/internal/config"
	"csfdsync/internal/container"
	"csfdsync/internal/logger"
	"csfdsync/internal/models"
	"csfdsync/internal/scraper"
	"csfdsync/internal/services"
)

const usage = `csfdsync <command> [flags]

Commands:
  load       start a fresh walk over a user's ratings listing
  resume     continue a paused walk from its saved progress
  status     show saved walk progress and stored record counts
  clear      drop saved walk progress without touching records
  reconcile  re-read one film page and fix the stored record
  sync       merge the local store with the cloud backup
  resolve    resolve a sync conflict in one direction
  purge      delete all stored records for a user
`

func main() {
	logger.Init()
	log := logger.Get()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	if command != "load" && command != "resume" {
		go func() {
			<-sigs
			cancel()
		}()
	}

	c, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer c.Close()

	switch command {
	case "load":
		pauseOnSignal(sigs, c.Loader, cancel)
		err = runLoad(ctx, c, args)
	case "resume":
		pauseOnSignal(sigs, c.Loader, cancel)
		err = runResume(ctx, c, args)
	case "status":
		err = runStatus(ctx, c, args)
	case "clear":
		err = runClear(ctx, c, args)
	case "reconcile":
		err = runReconcile(ctx, c, args)
	case "sync":
		err = runSync(ctx, c, args)
	case "resolve":
		err = runResolve(ctx, c, args)
	case "purge":
		err = runPurge(ctx, c, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Command %s failed: %v", command, err)
	}
}

// userSlugFlag accepts either the bare "123456-username" slug or a full
// profile URL and normalizes to the slug.
func userSlugFlag(fs *flag.FlagSet) *string {
	return fs.String("user", "", "user profile slug or URL (required)")
}

func resolveUserSlug(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("-user is required")
	}
	if slug := scraper.ExtractUserSlug(raw); slug != "" {
		return slug, nil
	}
	return raw, nil
}

func runLoad(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	user := userSlugFlag(fs)
	pages := fs.Int("pages", 0, "stop after this many pages (0 = all)")
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}

	result, err := c.Loader.Start(ctx, userSlug, *pages)
	if err != nil {
		return err
	}
	printLoadResult(result)
	return nil
}

func runResume(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	user := userSlugFlag(fs)
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}

	result, err := c.Loader.Resume(ctx, userSlug)
	if err != nil {
		return err
	}
	printLoadResult(result)
	return nil
}

// pauseOnSignal turns the first interrupt into a cooperative pause: the
// walker's context stays live so the in-flight page finishes, is saved, and
// the paused progress is persisted. A second interrupt cancels the context
// and aborts the walk.
func pauseOnSignal(sigs <-chan os.Signal, loader *services.Loader, cancel context.CancelFunc) {
	go func() {
		<-sigs
		loader.RequestPause("interrupted")
		<-sigs
		cancel()
	}()
}

func printLoadResult(result *services.LoadResult) {
	if result.Status == services.LoadStatusPaused {
		fmt.Printf("paused at page %d/%d (%d records saved): %s\n",
			result.LoadedPages, result.TargetPages, result.TotalParsed, result.PauseReason)
		fmt.Println("run `csfdsync resume` to continue")
		return
	}
	fmt.Printf("done: %d pages, %d records saved\n", result.LoadedPages, result.TotalParsed)
}

func runStatus(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	user := userSlugFlag(fs)
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}

	count, err := c.Ratings.Count(ctx, userSlug)
	if err != nil {
		return err
	}
	fmt.Printf("user %s: %d stored records\n", userSlug, count)

	state, err := c.State.LoadWalkerState(ctx, userSlug)
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Println("no walk in progress")
		return nil
	}
	fmt.Printf("walk %s: next page %d/%d, %d records parsed\n",
		state.Status, state.NextPage, state.TargetPages, state.TotalParsed)
	if state.PauseReason != "" {
		fmt.Printf("pause reason: %s\n", state.PauseReason)
	}
	return nil
}

func runClear(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	user := userSlugFlag(fs)
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}
	if err := c.Loader.Abandon(ctx, userSlug); err != nil {
		return err
	}
	fmt.Println("walk progress cleared")
	return nil
}

func runReconcile(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	user := userSlugFlag(fs)
	url := fs.String("url", "", "film page URL (required)")
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}
	if *url == "" {
		return fmt.Errorf("-url is required")
	}

	changed, err := c.Reconciler.ReconcileURL(ctx, userSlug, *url)
	if err != nil {
		return err
	}
	if changed {
		fmt.Println("stored record updated")
	} else {
		fmt.Println("stored record already matches the page")
	}
	return nil
}

func runSync(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	user := userSlugFlag(fs)
	check := fs.Bool("check", false, "detect conflicts only, write nothing")
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}

	token, err := syncToken(ctx, c, userSlug)
	if err != nil {
		return err
	}

	result, err := c.Syncer.Merge(ctx, userSlug, token, *check)
	if err != nil {
		return err
	}
	printMergeResult(result)
	if result.Status == models.MergeStatusConflict {
		os.Exit(1)
	}
	return nil
}

func runResolve(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	user := userSlugFlag(fs)
	direction := fs.String("direction", "", "which side wins: local or remote (required)")
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}

	token, err := syncToken(ctx, c, userSlug)
	if err != nil {
		return err
	}

	var result *models.MergeResult
	switch *direction {
	case "local":
		result, err = c.Syncer.ResolveWithLocal(ctx, userSlug, token)
	case "remote":
		result, err = c.Syncer.ResolveWithRemote(ctx, userSlug, token)
	default:
		return fmt.Errorf("-direction must be local or remote")
	}
	if err != nil {
		return err
	}
	printMergeResult(result)
	return nil
}

// syncToken loads the saved sync settings and lazily provisions an access
// token on first use.
func syncToken(ctx context.Context, c *container.Container, userSlug string) (string, error) {
	settings, err := c.State.LoadSyncSettings(ctx, userSlug)
	if err != nil {
		return "", err
	}
	if settings.AccessToken != "" {
		return settings.AccessToken, nil
	}

	token, err := c.Cloud.GetOrCreateToken(ctx, userSlug)
	if err != nil {
		return "", fmt.Errorf("provision sync token: %w", err)
	}
	settings.Enabled = true
	settings.AccessToken = token
	if err := c.State.SaveSyncSettings(ctx, userSlug, settings); err != nil {
		return "", err
	}
	return token, nil
}

func printMergeResult(result *models.MergeResult) {
	switch result.Status {
	case models.MergeStatusConflict:
		fmt.Printf("%d conflict(s) found, nothing written:\n", len(result.Conflicts))
		for _, conflict := range result.Conflicts {
			fmt.Printf("  %s\n", describeConflict(conflict))
		}
		fmt.Println("run `csfdsync resolve -direction local|remote` to resolve")
	case models.MergeStatusError:
		fmt.Printf("sync failed: %s\n", result.Message)
	default:
		fmt.Printf("sync done: %d pulled, %d deleted, %d uploaded\n",
			result.Updated, result.Deleted, result.Uploaded)
	}
}

func describeConflict(conflict models.Conflict) string {
	name := ""
	switch {
	case conflict.Local != nil:
		name = conflict.Local.Name
	case conflict.Remote != nil:
		name = conflict.Remote.Name
	}
	switch conflict.Kind {
	case models.ConflictMissingLocally:
		return fmt.Sprintf("%s: exists in the cloud but not locally", name)
	case models.ConflictDeletedRemotely:
		return fmt.Sprintf("%s: deleted in the cloud but still stored locally", name)
	default:
		return fmt.Sprintf("%s: local and cloud ratings differ", name)
	}
}

func runPurge(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	user := userSlugFlag(fs)
	fs.Parse(args)

	userSlug, err := resolveUserSlug(*user)
	if err != nil {
		return err
	}

	count, err := c.Ratings.Count(ctx, userSlug)
	if err != nil {
		return err
	}
	if err := c.Ratings.DeleteAll(ctx, userSlug); err != nil {
		return err
	}
	if err := c.Loader.Abandon(ctx, userSlug); err != nil {
		return err
	}
	fmt.Printf("deleted %d stored records for %s\n", count, userSlug)
	return nil
}
