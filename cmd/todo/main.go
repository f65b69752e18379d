package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"todo-client/internal/api"
	"todo-client/internal/chat"
	"todo-client/internal/models"
	"todo-client/internal/session"
	"todo-client/internal/store"
	"todo-client/internal/tasks"

	"golang.org/x/term"
)

// Default backend base URL; override with TODO_SERVER env or -server flag.
const defaultServer = "http://127.0.0.1:8001"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return errors.New("missing command")
	}

	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "register":
		return cmdRegister(ctx, rest, stdin, stdout, stderr)
	case "login":
		return cmdLogin(ctx, rest, stdin, stdout, stderr)
	case "logout":
		return cmdLogout(ctx, rest, stdout, stderr)
	case "whoami":
		return cmdWhoami(ctx, rest, stdout, stderr)
	case "list":
		return cmdList(ctx, rest, stdout, stderr)
	case "add":
		return cmdAdd(ctx, rest, stdout, stderr)
	case "show":
		return cmdShow(ctx, rest, stdout, stderr)
	case "edit":
		return cmdEdit(ctx, rest, stdout, stderr)
	case "done":
		return cmdToggle(ctx, rest, stdout, stderr, true)
	case "undone":
		return cmdToggle(ctx, rest, stdout, stderr, false)
	case "rm":
		return cmdRemove(ctx, rest, stdout, stderr)
	case "stats":
		return cmdStats(ctx, rest, stdout, stderr)
	case "chat":
		return cmdChat(ctx, rest, stdin, stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: todo <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  register   Create an account and log in")
	fmt.Fprintln(w, "  login      Log in with username and password")
	fmt.Fprintln(w, "  logout     End the current session")
	fmt.Fprintln(w, "  whoami     Show the current session (-remote asks the backend)")
	fmt.Fprintln(w, "  list       List tasks grouped by creation date")
	fmt.Fprintln(w, "  add        Create a task (-title, -desc)")
	fmt.Fprintln(w, "  show       Show one task (-id)")
	fmt.Fprintln(w, "  edit       Update a task (-id, -title, -desc)")
	fmt.Fprintln(w, "  done       Mark a task completed (-id)")
	fmt.Fprintln(w, "  undone     Mark a task not completed (-id)")
	fmt.Fprintln(w, "  rm         Delete a task (-id)")
	fmt.Fprintln(w, "  stats      Show completion statistics")
	fmt.Fprintln(w, "  chat       Talk to the task agent (-m for one message, -new to reset)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags: -server <url> (or TODO_SERVER), -state <path> (or TODO_STATE)")
}

// app bundles the wired services behind one session/state file.
type app struct {
	store   *store.Store
	client  *api.Client
	session *session.Manager
	tasks   *tasks.Service
	chat    *chat.Service
	stdout  io.Writer
	stderr  io.Writer
}

type commonFlags struct {
	server *string
	state  *string
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		server: fs.String("server", defaultServer, "Backend base URL"),
		state:  fs.String("state", "", "State file path (default: per-server file under ~/.todo)"),
	}
}

func newApp(cf commonFlags, stdout, stderr io.Writer) (*app, error) {
	server := *cf.server
	// Allow overriding via env var if not explicitly set via flag (flag default is used)
	if env := os.Getenv("TODO_SERVER"); env != "" && server == defaultServer {
		server = env
	}
	server = strings.TrimRight(server, "/")

	statePath := *cf.state
	if statePath == "" {
		statePath = os.Getenv("TODO_STATE")
	}
	if statePath == "" {
		var err error
		statePath, err = store.DefaultPath(server)
		if err != nil {
			return nil, fmt.Errorf("resolve state path: %w", err)
		}
	}

	st, err := store.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}

	client := api.New(server, st)
	sess, err := session.New(st, client)
	if err != nil {
		st.Close()
		return nil, err
	}
	chatSvc, err := chat.NewService(client, st, sess)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		store:   st,
		client:  client,
		session: sess,
		tasks:   tasks.NewService(client),
		chat:    chatSvc,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func cmdRegister(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	username := fs.String("user", "", "Username")
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (optional, will prompt if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" || *email == "" {
		return errors.New("missing required flags: user, email")
	}
	if !strings.Contains(*email, "@") {
		return errors.New("email address is invalid")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword(stdin, stdout, "Password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword(stdin, stdout, "Confirm password: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passwords do not match")
		}
	}
	if strings.TrimSpace(pass) == "" {
		return errors.New("password cannot be empty")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.session.Register(ctx, *username, *email, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Registered and logged in as %s (user id %d)\n", user.Username, user.ID)
	return nil
}

func cmdLogin(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	username := fs.String("user", "", "Username")
	password := fs.String("password", "", "Password (optional, will prompt if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		return errors.New("missing required flags: user")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword(stdin, stdout, "Password: ")
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(pass) == "" {
		return errors.New("password cannot be empty")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.session.Login(ctx, *username, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Logged in as %s (user id %d)\n", user.Username, user.ID)
	return nil
}

func cmdLogout(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Logged out.")
	return nil
}

func cmdWhoami(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	remote := fs.Bool("remote", false, "Ask the backend to validate the stored token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if *remote {
		info, err := a.session.RemoteSession(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Session valid for %s (user id %d)\n", info.Username, info.UserID)
		return nil
	}

	user := a.session.Current()
	if user == nil {
		fmt.Fprintln(stdout, "Not logged in.")
		return nil
	}
	fmt.Fprintf(stdout, "Logged in as %s <%s> (user id %d)\n", user.Username, user.Email, user.ID)
	return nil
}

func cmdList(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.tasks.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No tasks.")
		return nil
	}
	printGrouped(stdout, list)
	return nil
}

func cmdAdd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	title := fs.String("title", "", "Task title")
	desc := fs.String("desc", "", "Task description")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*title) == "" {
		return errors.New("title is required")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.tasks.Create(ctx, models.CreateTask{Title: *title, Description: *desc})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Created task #%d: %s\n", task.ID, task.Title)
	return nil
}

func cmdShow(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	id := fs.Int64("id", 0, "Task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("missing required flags: id")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.tasks.Get(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s #%d %s\n", checkbox(task.Completed), task.ID, task.Title)
	if task.Description != "" {
		fmt.Fprintf(stdout, "  %s\n", task.Description)
	}
	fmt.Fprintf(stdout, "  created %s, updated %s\n", task.CreatedAt, task.UpdatedAt)
	return nil
}

func cmdEdit(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	id := fs.Int64("id", 0, "Task id")
	title := fs.String("title", "", "New title")
	desc := fs.String("desc", "", "New description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("missing required flags: id")
	}

	// Only fields whose flags were actually passed go into the update.
	var data models.UpdateTask
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			data.Title = title
		case "desc":
			data.Description = desc
		}
	})
	if data.Title == nil && data.Description == nil {
		return errors.New("nothing to update: pass -title or -desc")
	}
	if data.Title != nil && strings.TrimSpace(*data.Title) == "" {
		return errors.New("title is required")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.tasks.Update(ctx, *id, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Updated task #%d: %s\n", task.ID, task.Title)
	return nil
}

func cmdToggle(ctx context.Context, args []string, stdout, stderr io.Writer, completed bool) error {
	name := "done"
	if !completed {
		name = "undone"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	id := fs.Int64("id", 0, "Task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("missing required flags: id")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.tasks.Toggle(ctx, *id, completed)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s #%d %s\n", checkbox(task.Completed), task.ID, task.Title)
	return nil
}

func cmdRemove(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	id := fs.Int64("id", 0, "Task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("missing required flags: id")
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tasks.Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deleted task #%d\n", *id)
	return nil
}

func cmdStats(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.tasks.List(ctx)
	if err != nil {
		return err
	}

	completed := 0
	for _, t := range list {
		if t.Completed {
			completed++
		}
	}
	rate := 0
	if len(list) > 0 {
		rate = completed * 100 / len(list)
	}
	fmt.Fprintf(stdout, "Tasks:     %d\n", len(list))
	fmt.Fprintf(stdout, "Completed: %d\n", completed)
	fmt.Fprintf(stdout, "Pending:   %d\n", len(list)-completed)
	fmt.Fprintf(stdout, "Done:      %d%%\n", rate)
	return nil
}

func cmdChat(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addCommon(fs)
	message := fs.String("m", "", "Send a single message and exit")
	fresh := fs.Bool("new", false, "Start a new conversation first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if *fresh {
		if err := a.chat.NewConversation(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Started a new conversation.")
	}

	if *message != "" {
		return a.sendChat(ctx, *message)
	}

	// Interactive loop: one message per line, "exit" or EOF ends it.
	fmt.Fprintln(stdout, "Chatting with the task agent. Type 'exit' to quit.")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := a.sendChat(ctx, line); err != nil {
			// The transcript already carries the error entry; keep chatting.
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
}

func (a *app) sendChat(ctx context.Context, text string) error {
	resp, err := a.chat.Send(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "assistant> %s\n", resp.Message)
	for _, tc := range resp.ToolCalls {
		fmt.Fprintf(a.stdout, "  [tool: %s]\n", tc.Tool)
	}
	return nil
}

func promptPassword(stdin io.Reader, stdout io.Writer, prompt string) (string, error) {
	fmt.Fprint(stdout, prompt)
	pass, err := readPassword(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(stdout) // Print newline after password input
	return pass, nil
}

func readPassword(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func checkbox(completed bool) string {
	if completed {
		return "[x]"
	}
	return "[ ]"
}

// taskGroup collects the tasks created on one day.
type taskGroup struct {
	Title string
	Date  string
	Items []models.Task
}

func printGrouped(w io.Writer, list []models.Task) {
	groupsMap := make(map[string]*taskGroup)
	var undated []models.Task

	for _, t := range list {
		created, ok := parseTaskTime(t.CreatedAt)
		if !ok {
			undated = append(undated, t)
			continue
		}
		dateStr := created.Format("2006-01-02")
		if _, ok := groupsMap[dateStr]; !ok {
			groupsMap[dateStr] = &taskGroup{Date: dateStr, Title: formatGroupTitle(created)}
		}
		groupsMap[dateStr].Items = append(groupsMap[dateStr].Items, t)
	}

	groups := make([]taskGroup, 0, len(groupsMap))
	for _, g := range groupsMap {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Date > groups[j].Date })

	for _, g := range groups {
		fmt.Fprintln(w, g.Title)
		for _, t := range g.Items {
			printTaskLine(w, t)
		}
	}
	if len(undated) > 0 {
		fmt.Fprintln(w, "UNDATED")
		for _, t := range undated {
			printTaskLine(w, t)
		}
	}
}

func printTaskLine(w io.Writer, t models.Task) {
	if t.Description != "" {
		fmt.Fprintf(w, "  %s #%d %s - %s\n", checkbox(t.Completed), t.ID, t.Title, t.Description)
		return
	}
	fmt.Fprintf(w, "  %s #%d %s\n", checkbox(t.Completed), t.ID, t.Title)
}

// parseTaskTime parses the backend's timestamp, which may or may not carry
// a timezone suffix or fractional seconds.
func parseTaskTime(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatGroupTitle(date time.Time) string {
	dateStr := date.Format("2006-01-02")
	nowStr := time.Now().Format("2006-01-02")

	if dateStr == nowStr {
		return "TODAY"
	}
	yesterdayStr := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	if dateStr == yesterdayStr {
		return "YESTERDAY"
	}
	return strings.ToUpper(date.Format("Mon, 02 Jan '06"))
}
