// Package tui provides a terminal dashboard for runs on a reagent server.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
	"github.com/klubi/reagent/pkg/client"
)

const requestTimeout = 5 * time.Second

// App is the dashboard application. It polls the REST API and shows runs
// in a navigable table with a describe panel.
type App struct {
	app         *tview.Application
	pages       *tview.Pages
	header      *tview.TextView
	footer      *tview.TextView
	table       *tview.Table
	filterInput *tview.InputField
	queryInput  *tview.InputField
	detailView  *tview.TextView
	layout      *tview.Flex
	mainFlex    *tview.Flex

	client     *client.Client
	serverAddr string

	mu      sync.Mutex
	view    view
	filter  string
	runs    []v1.Run
	lastErr error
	// describing is the name of the run shown in the describe panel.
	describing string

	describeOpen bool
	// inputOpen is set while the filter or new-run input has focus.
	inputOpen bool
}

// NewApp creates a dashboard connected to the given API server.
func NewApp(serverAddr string) *App {
	a := &App{
		app:        tview.NewApplication(),
		client:     client.New(serverAddr),
		serverAddr: serverAddr,
		view:       views[0],
	}

	a.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.header.SetBackgroundColor(tcell.ColorDarkBlue)

	a.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.footer.SetBackgroundColor(tcell.ColorDarkBlue)

	a.table = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetSeparator(tview.Borders.Vertical)
	a.table.SetBorderPadding(0, 0, 1, 1)

	a.filterInput = tview.NewInputField().
		SetLabel(" Filter: ").
		SetFieldWidth(40).
		SetFieldBackgroundColor(tcell.ColorBlack).
		SetLabelColor(tcell.ColorYellow)
	a.filterInput.SetDoneFunc(func(key tcell.Key) {
		a.mu.Lock()
		if key == tcell.KeyEnter {
			a.filter = a.filterInput.GetText()
		} else {
			a.filter = ""
		}
		a.mu.Unlock()
		a.hideInput(a.filterInput)
		a.updateHeader()
		a.updateTable()
	})

	a.queryInput = tview.NewInputField().
		SetLabel(" New run query: ").
		SetFieldBackgroundColor(tcell.ColorBlack).
		SetLabelColor(tcell.ColorGreen)
	a.queryInput.SetDoneFunc(func(key tcell.Key) {
		query := strings.TrimSpace(a.queryInput.GetText())
		a.queryInput.SetText("")
		a.hideInput(a.queryInput)
		if key == tcell.KeyEnter && query != "" {
			go a.submit(query)
		}
	})

	a.detailView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	a.detailView.SetBorder(true).
		SetTitle(" Describe ").
		SetBorderColor(tcell.ColorDodgerBlue)

	a.layout = tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(a.table, 0, 1, true)

	a.mainFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 1, 0, false).
		AddItem(a.layout, 0, 1, true).
		AddItem(a.footer, 1, 0, false)

	a.pages = tview.NewPages().
		AddPage("main", a.mainFlex, true, true)

	a.updateHeader()
	a.updateFooter()
	a.setupKeyBindings()

	a.app.SetRoot(a.pages, true).SetFocus(a.table)
	return a
}

// Run starts the background poller and runs the event loop until quit.
func (a *App) Run() error {
	a.refresh()
	a.updateTable()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.refreshAndDraw()
			}
		}
	}()

	return a.app.Run()
}

// ---------------------------------------------------------------------------
// Key bindings
// ---------------------------------------------------------------------------

func (a *App) setupKeyBindings() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.inputOpen {
			return event
		}
		if a.describeOpen && event.Key() == tcell.KeyEscape {
			a.hideDescribe()
			return nil
		}

		switch event.Key() {
		case tcell.KeyRune:
			for _, v := range views {
				if string(event.Rune()) == v.key {
					a.switchView(v)
					return nil
				}
			}
			switch event.Rune() {
			case '/':
				a.showInput(a.filterInput)
				return nil
			case 'n':
				a.showInput(a.queryInput)
				return nil
			case 'q':
				a.app.Stop()
				return nil
			case 'r':
				go a.refreshAndDraw()
				return nil
			case 'd':
				a.confirmDelete()
				return nil
			case 'j':
				row, _ := a.table.GetSelection()
				if row < a.table.GetRowCount()-1 {
					a.table.Select(row+1, 0)
				}
				return nil
			case 'k':
				row, _ := a.table.GetSelection()
				if row > 1 {
					a.table.Select(row-1, 0)
				}
				return nil
			}
		case tcell.KeyEnter:
			a.showDescribe()
			return nil
		case tcell.KeyEscape:
			a.mu.Lock()
			cleared := a.filter != ""
			a.filter = ""
			a.mu.Unlock()
			if cleared {
				a.updateHeader()
				a.updateTable()
			}
			return nil
		}
		return event
	})
}

func (a *App) switchView(v view) {
	a.mu.Lock()
	a.view = v
	a.mu.Unlock()
	a.updateHeader()
	a.updateTable()
}

// ---------------------------------------------------------------------------
// Data refresh
// ---------------------------------------------------------------------------

func (a *App) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	runs, err := a.client.ListRuns(ctx, "")
	a.mu.Lock()
	if err == nil {
		a.runs = runs
	}
	a.lastErr = err
	a.mu.Unlock()
}

func (a *App) refreshAndDraw() {
	a.refresh()
	a.app.QueueUpdateDraw(func() {
		a.updateTable()
		a.updateDescribe()
	})
}

// ---------------------------------------------------------------------------
// Table rendering
// ---------------------------------------------------------------------------

func (a *App) updateTable() {
	selected := ""
	if row, _ := a.table.GetSelection(); row > 0 && row < a.table.GetRowCount() {
		selected = a.table.GetCell(row, 0).Text
	}
	a.table.Clear()

	a.mu.Lock()
	v := a.view
	filter := strings.ToLower(a.filter)
	runs := a.runs
	err := a.lastErr
	a.mu.Unlock()

	if err != nil && len(runs) == 0 {
		a.setTableHeaders([]string{"ERROR"})
		a.table.SetCell(1, 0,
			tview.NewTableCell(fmt.Sprintf("Error: %v", err)).
				SetTextColor(tcell.ColorRed))
		return
	}

	a.setTableHeaders([]string{"NAME", "PHASE", "STEPS", "MODEL", "QUERY", "AGE"})

	row, selectRow := 1, 1
	// Newest first.
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if !v.includes(r.Status.Phase) {
			continue
		}
		phase := string(r.Status.Phase)
		steps := fmt.Sprintf("%d", r.Status.Steps)
		query := truncate(r.Spec.Query, 60)
		if !matchesFilter(filter, r.Metadata.Name, phase, r.Spec.Model, r.Spec.Query) {
			continue
		}

		a.table.SetCell(row, 0, tview.NewTableCell(r.Metadata.Name).SetExpansion(1))
		a.table.SetCell(row, 1, tview.NewTableCell(phase).
			SetTextColor(phaseColor(r.Status.Phase)).SetExpansion(1))
		a.table.SetCell(row, 2, tview.NewTableCell(steps).SetExpansion(1))
		a.table.SetCell(row, 3, tview.NewTableCell(r.Spec.Model).SetExpansion(1))
		a.table.SetCell(row, 4, tview.NewTableCell(query).SetExpansion(3))
		a.table.SetCell(row, 5, tview.NewTableCell(formatAge(r.Metadata.CreatedAt)).SetExpansion(1))
		if r.Metadata.Name == selected {
			selectRow = row
		}
		row++
	}

	if a.table.GetRowCount() > 1 {
		a.table.Select(selectRow, 0)
	}
}

func (a *App) setTableHeaders(headers []string) {
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(tcell.ColorWhite).
			SetBackgroundColor(tcell.ColorDarkCyan).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1)
		a.table.SetCell(0, col, cell)
	}
}

func (a *App) selectedName() string {
	row, _ := a.table.GetSelection()
	if row < 1 || row >= a.table.GetRowCount() {
		return ""
	}
	return a.table.GetCell(row, 0).Text
}

// ---------------------------------------------------------------------------
// Describe (detail panel)
// ---------------------------------------------------------------------------

func (a *App) showDescribe() {
	name := a.selectedName()
	if name == "" {
		return
	}
	a.mu.Lock()
	a.describing = name
	a.mu.Unlock()

	a.updateDescribe()
	if !a.describeOpen {
		a.layout.AddItem(a.detailView, 0, 2, false)
		a.describeOpen = true
	}
}

// updateDescribe re-renders the describe panel from the cached runs so a
// running run's events appear as they are recorded.
func (a *App) updateDescribe() {
	a.mu.Lock()
	name := a.describing
	var run *v1.Run
	for i := range a.runs {
		if a.runs[i].Metadata.Name == name {
			run = &a.runs[i]
			break
		}
	}
	a.mu.Unlock()

	if name == "" {
		return
	}
	if run == nil {
		a.detailView.SetText(fmt.Sprintf("[gray]Run %s no longer exists.[-]", name))
		return
	}
	a.detailView.SetText(describeRun(run))
}

func (a *App) hideDescribe() {
	if a.describeOpen {
		a.layout.RemoveItem(a.detailView)
		a.describeOpen = false
		a.mu.Lock()
		a.describing = ""
		a.mu.Unlock()
		a.app.SetFocus(a.table)
	}
}

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// showInput replaces the footer with input.
func (a *App) showInput(input *tview.InputField) {
	if a.inputOpen {
		return
	}
	a.inputOpen = true
	if input == a.filterInput {
		a.mu.Lock()
		input.SetText(a.filter)
		a.mu.Unlock()
	}
	a.mainFlex.RemoveItem(a.footer)
	a.mainFlex.AddItem(input, 1, 0, true)
	a.app.SetFocus(input)
}

func (a *App) hideInput(input *tview.InputField) {
	if !a.inputOpen {
		return
	}
	a.inputOpen = false
	a.mainFlex.RemoveItem(input)
	a.mainFlex.AddItem(a.footer, 1, 0, false)
	a.app.SetFocus(a.table)
}

func (a *App) submit(query string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	run, err := a.client.CreateRun(ctx, &v1.Run{Spec: v1.RunSpec{Query: query}})
	if err != nil {
		a.app.QueueUpdateDraw(func() { a.flash(fmt.Sprintf("[red]Submit failed: %v[-]", err)) })
		return
	}
	a.app.QueueUpdateDraw(func() { a.flash(fmt.Sprintf("[green]Submitted %s[-]", run.Metadata.Name)) })
	a.refreshAndDraw()
}

// ---------------------------------------------------------------------------
// Delete with confirmation
// ---------------------------------------------------------------------------

func (a *App) confirmDelete() {
	name := a.selectedName()
	if name == "" {
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete run %q?\nA running run is cancelled.", name)).
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(_ int, buttonLabel string) {
			if buttonLabel == "Delete" {
				go a.deleteRun(name)
			}
			a.pages.RemovePage("confirm")
			a.app.SetFocus(a.table)
		})
	modal.SetBackgroundColor(tcell.ColorDarkRed)
	a.pages.AddPage("confirm", modal, true, true)
}

func (a *App) deleteRun(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := a.client.DeleteRun(ctx, name); err != nil {
		a.app.QueueUpdateDraw(func() { a.flash(fmt.Sprintf("[red]Delete failed: %v[-]", err)) })
		return
	}
	a.refreshAndDraw()
}

// ---------------------------------------------------------------------------
// Header & Footer
// ---------------------------------------------------------------------------

func (a *App) updateHeader() {
	a.mu.Lock()
	current := a.view
	filter := a.filter
	a.mu.Unlock()

	var parts []string
	for _, v := range views {
		if v.key == current.key {
			parts = append(parts, fmt.Sprintf("[black:yellow]<%s> %s[-:-]", v.key, v.name))
		} else {
			parts = append(parts, fmt.Sprintf("[yellow]<%s>[white] %s", v.key, v.name))
		}
	}

	filterInfo := ""
	if filter != "" {
		filterInfo = fmt.Sprintf(" | [yellow]filter: %s[-]", tview.Escape(filter))
	}

	a.header.SetText(fmt.Sprintf(" [::b]reagent[::-] | %s | %s%s",
		a.serverAddr, strings.Join(parts, "  "), filterInfo))
}

func (a *App) updateFooter() {
	a.footer.SetText(" [yellow]<enter>[white]Describe  [yellow]<n>[white]New run  [yellow]<d>[white]Delete  [yellow]</>[white]Filter  [yellow]<r>[white]Refresh  [yellow]<q>[white]Quit  [yellow]<esc>[white]Back")
}

// flash shows msg in the footer for a few seconds. Must run on the UI goroutine.
func (a *App) flash(msg string) {
	a.footer.SetText(" " + msg)
	go func() {
		time.Sleep(3 * time.Second)
		a.app.QueueUpdateDraw(a.updateFooter)
	}()
}
