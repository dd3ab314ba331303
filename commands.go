package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumen-blog/blogctl/blog"
	"github.com/lumen-blog/blogctl/session"
)

var errUsage = errors.New("invalid usage, run 'blogctl -h' for help")

// dispatch runs one subcommand.
func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "logout":
		a.session.Logout(ctx)
		return nil
	case "refresh":
		return a.refresh(ctx)
	case "status":
		return a.status()
	}

	if a.session.State() == session.Authenticated {
		a.d.SessionRestored(a.source)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "articles":
		return a.articles(ctx, rest)
	case "friends":
		return a.friends(ctx, rest)
	case "artworks":
		return a.artworks(ctx, rest)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	user := fs.String("u", getEnv("BLOG_USERNAME", "admin"), "username")
	pass := fs.String("p", os.Getenv("BLOG_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pass == "" {
		return errors.New("password required: pass -p or set BLOG_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	a.d.LoggingIn(*user)
	if err := a.session.Login(ctx, *user, *pass); err != nil {
		a.d.LoginFailed(err)
		return err
	}
	a.d.LoginOK(*user)
	a.d.Done("Logged in as " + *user)
	return nil
}

// refresh forces a token refresh. A failed refresh ends the session just as
// it does for a rejected request.
func (a *app) refresh(ctx context.Context) error {
	if a.session.State() == session.Anonymous && a.store.Get().RefreshToken == "" {
		a.d.NoSession()
		return session.ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	a.d.Refreshing()
	if _, err := a.session.Refresh(ctx); err != nil {
		a.d.RefreshFailed(err)
		if ctx.Err() == nil {
			a.session.Logout(ctx)
		}
		return err
	}
	a.d.RefreshOK()
	a.d.Done("Access token refreshed")
	return nil
}

func (a *app) status() error {
	if a.session.State() == session.Anonymous {
		a.d.NoSession()
		fmt.Fprintln(a.out, "state: "+session.Anonymous.String())
		return nil
	}

	a.d.SessionRestored(a.source)
	fmt.Fprintln(a.out, "state: "+a.session.State().String())
	fmt.Fprintln(a.out, "store: "+a.source)

	claims, err := a.session.Claims()
	if err != nil {
		// Opaque tokens are valid too.
		a.logger.Debug("status.claims_unavailable", zap.Error(err))
		return nil
	}
	if claims.Subject != "" {
		fmt.Fprintln(a.out, "subject: "+claims.Subject)
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		left := time.Until(exp).Round(time.Second)
		if left <= 0 {
			fmt.Fprintf(a.out, "expires: %s (expired, will refresh on next request)\n", exp.Format(time.RFC3339))
		} else {
			fmt.Fprintf(a.out, "expires: %s (in %s)\n", exp.Format(time.RFC3339), left)
		}
	}
	return nil
}

func (a *app) articles(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		fs := newFlagSet("articles list")
		category := fs.String("category", "", "only this category")
		lf := addListFlags(fs)
		if err := fs.Parse(rest); err != nil {
			return err
		}

		a.d.Working("Fetching articles")
		idx, err := a.blog.ArticleIndex(ctx)
		if err != nil {
			return err
		}
		var items []blog.ArticleSummary
		for cat, list := range idx {
			if *category != "" && cat != *category {
				continue
			}
			items = append(items, list...)
		}

		l := blog.ArticleListing(items, blog.SortType(*lf.sortBy), *lf.pageSize)
		if err := lf.apply(l); err != nil {
			return err
		}
		renderArticles(a.out, l.Items())
		a.d.Done(pageSummary(l.Page(), l.TotalPages(), len(l.Results())))
		return nil

	case "show":
		if len(rest) != 2 {
			return errUsage
		}
		a.d.Working("Fetching article")
		art, err := a.blog.Article(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "# %s\n%s  %s/%s\n\n%s\n", art.Title, art.Date, art.Category, art.ID, art.Content)
		a.d.Done("")
		return nil

	case "save":
		fs := newFlagSet("articles save")
		draft := blog.ArticleDraft{}
		fs.BoolVar(&draft.IsNew, "new", false, "create instead of update")
		fs.StringVar(&draft.Slug, "slug", "", "article slug")
		fs.StringVar(&draft.Title, "title", "", "title")
		fs.StringVar(&draft.Category, "category", "", "category")
		fs.StringVar(&draft.Date, "date", time.Now().Format(time.DateOnly), "publication date")
		file := fs.String("file", "", "markdown file with the content (- for stdin)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		content, err := readContent(*file)
		if err != nil {
			return err
		}
		draft.Content = content

		a.d.Working("Saving article")
		id, err := a.blog.SaveArticle(ctx, draft)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, id)
		a.d.Done("Article saved")
		return nil

	case "delete":
		if len(rest) != 1 {
			return errUsage
		}
		a.d.Working("Deleting article")
		if err := a.blog.DeleteArticle(ctx, rest[0]); err != nil {
			return err
		}
		a.d.Done("Article deleted")
		return nil
	}
	return errUsage
}

func (a *app) friends(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		fs := newFlagSet("friends list")
		lf := addListFlags(fs)
		if err := fs.Parse(rest); err != nil {
			return err
		}
		a.d.Working("Fetching friends")
		list, err := a.blog.Friends(ctx)
		if err != nil {
			return err
		}
		l := blog.FriendListing(list, *lf.pageSize)
		if err := lf.apply(l); err != nil {
			return err
		}
		renderFriends(a.out, l.Items())
		a.d.Done(pageSummary(l.Page(), l.TotalPages(), len(l.Results())))
		return nil

	case "add", "update":
		var id string
		if sub == "update" {
			if len(rest) == 0 {
				return errUsage
			}
			id, rest = rest[0], rest[1:]
		}
		fs := newFlagSet("friends " + sub)
		f := blog.Friend{}
		fs.StringVar(&f.Name, "name", "", "display name")
		fs.StringVar(&f.Desc, "desc", "", "description")
		fs.StringVar(&f.URL, "url", "", "site URL")
		fs.StringVar(&f.Avatar, "avatar", "", "avatar URL")
		tags := fs.String("tags", "", "comma separated tags")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		f.Tags = splitTags(*tags)

		var saved *blog.Friend
		var err error
		if sub == "add" {
			a.d.Working("Adding friend")
			saved, err = a.blog.AddFriend(ctx, f)
		} else {
			a.d.Working("Updating friend")
			saved, err = a.blog.UpdateFriend(ctx, id, f)
		}
		if err != nil {
			return err
		}
		renderFriends(a.out, []blog.Friend{*saved})
		a.d.Done("Friend saved")
		return nil

	case "delete":
		if len(rest) != 1 {
			return errUsage
		}
		a.d.Working("Deleting friend")
		if err := a.blog.DeleteFriend(ctx, rest[0]); err != nil {
			return err
		}
		a.d.Done("Friend deleted")
		return nil
	}
	return errUsage
}

func (a *app) artworks(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		fs := newFlagSet("artworks list")
		lf := addListFlags(fs)
		if err := fs.Parse(rest); err != nil {
			return err
		}
		a.d.Working("Fetching artworks")
		list, err := a.blog.Artworks(ctx)
		if err != nil {
			return err
		}
		l := blog.ArtworkListing(list, blog.SortType(*lf.sortBy), *lf.pageSize)
		if err := lf.apply(l); err != nil {
			return err
		}
		renderArtworks(a.out, l.Items())
		a.d.Done(pageSummary(l.Page(), l.TotalPages(), len(l.Results())))
		return nil

	case "show":
		if len(rest) != 1 {
			return errUsage
		}
		a.d.Working("Fetching artwork")
		w, err := a.blog.Artwork(ctx, rest[0])
		if err != nil {
			return err
		}
		renderArtworks(a.out, []blog.Artwork{*w})
		if w.Description != "" {
			fmt.Fprintln(a.out, w.Description)
		}
		a.d.Done("")
		return nil

	case "add", "update":
		var id string
		if sub == "update" {
			if len(rest) == 0 {
				return errUsage
			}
			id, rest = rest[0], rest[1:]
		}
		fs := newFlagSet("artworks " + sub)
		w := blog.Artwork{}
		fs.StringVar(&w.Title, "title", "", "title")
		fs.StringVar(&w.Thumbnail, "thumbnail", "", "thumbnail URL")
		fs.StringVar(&w.Fullsize, "fullsize", "", "full size image URL")
		fs.StringVar(&w.Description, "description", "", "description")
		fs.StringVar(&w.Date, "date", time.Now().Format(time.DateOnly), "date")
		if err := fs.Parse(rest); err != nil {
			return err
		}

		var saved *blog.Artwork
		var err error
		if sub == "add" {
			a.d.Working("Adding artwork")
			saved, err = a.blog.AddArtwork(ctx, w)
		} else {
			a.d.Working("Updating artwork")
			saved, err = a.blog.UpdateArtwork(ctx, id, w)
		}
		if err != nil {
			return err
		}
		renderArtworks(a.out, []blog.Artwork{*saved})
		a.d.Done("Artwork saved")
		return nil

	case "delete":
		if len(rest) != 1 {
			return errUsage
		}
		a.d.Working("Deleting artwork")
		if err := a.blog.DeleteArtwork(ctx, rest[0]); err != nil {
			return err
		}
		a.d.Done("Artwork deleted")
		return nil
	}
	return errUsage
}

// listFlags are shared by every list subcommand.
type listFlags struct {
	query    *string
	sortBy   *string
	order    *string
	page     *int
	pageSize *int
}

func addListFlags(fs *flag.FlagSet) listFlags {
	return listFlags{
		query:    fs.String("q", "", "case-insensitive search"),
		sortBy:   fs.String("sort", string(blog.SortDate), "alpha or date"),
		order:    fs.String("order", string(blog.Descending), "asc or desc"),
		page:     fs.Int("page", 1, "page number"),
		pageSize: fs.Int("page-size", blog.DefaultPageSize, "items per page"),
	}
}

type pager interface {
	SetQuery(string)
	SetOrder(blog.SortOrder)
	GoToPage(int) bool
	TotalPages() int
}

func (lf listFlags) apply(l pager) error {
	l.SetQuery(*lf.query)
	l.SetOrder(blog.SortOrder(*lf.order))
	if *lf.page != 1 && !l.GoToPage(*lf.page) {
		return fmt.Errorf("page %d out of range (1-%d)", *lf.page, l.TotalPages())
	}
	return nil
}

func pageSummary(page, total, matches int) string {
	if total == 0 {
		return "No results"
	}
	return fmt.Sprintf("Page %d of %d (%d results)", page, total, matches)
}

func splitTags(s string) []string {
	tags := []string{}
	for t := range strings.SplitSeq(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func readContent(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read content file: %w", err)
	}
	return string(data), nil
}
