package conversation

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/progress"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
	"github.com/alem-hub/course-bot/internal/domain/user"
	"github.com/alem-hub/course-bot/pkg/timeutil"
)

// Сколько последних решений показывать на экране задания.
const latestSubmissions = 3

// Экраны только читают данные и не меняют состояние диалога.

func (m *Machine) moduleListView(acc *user.Account, replace bool) Reply {
	rows := make([][]Choice, 0, len(m.registry.Catalog().Modules())+1)
	for _, mod := range m.registry.Catalog().Modules() {
		label := mod.DisplayName()
		if !m.registry.IsUnlocked(acc.Tariff, mod.ID) {
			label = "🔒 " + label
		}
		rows = append(rows, []Choice{{Label: label, Event: NavigateEvent{Target: TargetModule, Module: mod.ID}}})
	}
	rows = append(rows, []Choice{{Label: labelBack, Event: NavigateEvent{Target: TargetMainMenu}}})
	return Reply{Text: textModulesTitle, Choices: rows, Replace: replace}
}

func (m *Machine) homeworkListView(acc *user.Account, replace bool) Reply {
	rows := make([][]Choice, 0, len(m.registry.Catalog().Modules())+1)
	for _, mod := range m.registry.Catalog().Modules() {
		label := fmt.Sprintf("Задание %d: %s", mod.ID, mod.Title)
		if !m.registry.IsUnlocked(acc.Tariff, mod.ID) {
			label = "🔒 " + label
		}
		rows = append(rows, []Choice{{Label: label, Event: NavigateEvent{Target: TargetHomework, Module: mod.ID}}})
	}
	rows = append(rows, []Choice{{Label: labelBack, Event: NavigateEvent{Target: TargetMainMenu}}})
	return Reply{Text: textHomeworkTitle, Choices: rows, Replace: replace}
}

func moduleView(mod course.Module) Reply {
	description := mod.Description
	if description == "" {
		description = textNoDescription
	}
	return Reply{
		Text: fmt.Sprintf("<b>%s</b>\n\n%s", esc(mod.DisplayName()), esc(description)),
		Choices: [][]Choice{
			{
				{Label: labelMaterials, Event: NavigateEvent{Target: TargetMaterials, Module: mod.ID}},
				{Label: labelAssignment, Event: NavigateEvent{Target: TargetHomework, Module: mod.ID}},
			},
			{
				{Label: labelComplete, Event: CommandEvent{Name: CmdCompleteModule, Module: mod.ID}},
				{Label: labelToModules, Event: NavigateEvent{Target: TargetModuleList}},
			},
		},
		Replace: true,
	}
}

func materialsView(mod course.Module) Reply {
	var b strings.Builder
	b.WriteString(textMaterialsTitle(mod.ID))
	if len(mod.Materials) == 0 {
		b.WriteString("Материалы пока не добавлены.")
	}
	for i, item := range mod.Materials {
		fmt.Fprintf(&b, "%d. %s\n", i+1, esc(item))
	}
	return Reply{
		Text:    b.String(),
		Choices: [][]Choice{{{Label: labelToModule, Event: NavigateEvent{Target: TargetModule, Module: mod.ID}}}},
		Replace: true,
	}
}

// homeworkView ожидает решения в порядке "новые первыми".
func homeworkView(mod course.Module, subs []*submission.Submission) Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Домашнее задание к модулю %d</b>\n\n", mod.ID)
	if mod.Homework != "" {
		b.WriteString(esc(mod.Homework))
	} else {
		b.WriteString(textNoHomework)
	}

	if len(subs) > 0 {
		b.WriteString("\n\n<b>Ваши отправленные решения:</b>\n")
		for i, s := range subs {
			if i == latestSubmissions {
				break
			}
			fmt.Fprintf(&b, "%d. Отправлено: %s", i+1, timeutil.FormatStamp(s.SubmittedAt))
			if s.IsReviewed() {
				b.WriteString(" 💬 есть ответ куратора")
			}
			b.WriteString("\n")
		}
		if len(subs) > latestSubmissions {
			fmt.Fprintf(&b, "(и еще %d отправленных решений)", len(subs)-latestSubmissions)
		}
	}

	return Reply{
		Text: b.String(),
		Choices: [][]Choice{
			{{Label: labelSubmitWork, Event: CommandEvent{Name: CmdSubmitHomework, Module: mod.ID}}},
			{{Label: labelToHomeworks, Event: NavigateEvent{Target: TargetHomeworkList}}},
		},
		Replace: true,
	}
}

func (m *Machine) progressView(ctx context.Context, acc *user.Account) (Reply, error) {
	done, err := m.progress.GetAll(ctx, acc.UserID)
	if err != nil {
		return Reply{}, err
	}
	summary := progress.Summarize(m.registry.ModulesFor(acc.Tariff), done, m.registry.Catalog().ModuleTitle)

	var b strings.Builder
	b.WriteString("<b>Ваш прогресс по курсу:</b>\n\n")
	for _, s := range summary.Modules {
		status := "⏳"
		if s.Completed {
			status = "✅"
		}
		fmt.Fprintf(&b, "%s Модуль %d: %s\n", status, s.ID, esc(s.Title))
	}
	fmt.Fprintf(&b, "\n<b>Общий прогресс: %.1f%%</b>", summary.Percentage)

	return Reply{Text: b.String(), Menu: MenuMain}, nil
}

func (m *Machine) tariffView(acc *user.Account) Reply {
	modules := m.registry.ModulesFor(acc.Tariff)
	ids := make([]string, 0, len(modules))
	for _, id := range modules {
		ids = append(ids, id.String())
	}
	text := fmt.Sprintf("<b>Ваш текущий тариф: %s</b>\n\n%s\n\n<b>Доступные модули:</b> %s\n"+
		"<b>На курсе с</b> %s (%d дн.)\n\n"+
		"Для повышения тарифа воспользуйтесь командой /access и введите новый код доступа.",
		esc(acc.Tariff.String()), esc(m.registry.Describe(acc.Tariff)), strings.Join(ids, ", "),
		timeutil.FormatRussian(acc.EnrolledAt), timeutil.DaysSince(acc.EnrolledAt, m.now()))
	return Reply{Text: text, Menu: MenuMain}
}

func (m *Machine) infoView() Reply {
	var b strings.Builder
	fmt.Fprintf(&b, textInfoHead, len(m.registry.Catalog().Modules()))
	for _, t := range course.AllTariffs() {
		if d := m.registry.Describe(t); d != "" {
			b.WriteString("• " + esc(d) + "\n")
		}
	}
	b.WriteString(textInfoTail)
	return Reply{Text: b.String(), Menu: MenuMain}
}

func (m *Machine) webAppView(id shared.UserID) Reply {
	link := MiniAppLink(m.miniAppURL, id)
	if link == "" {
		return Reply{Text: textWebAppOff}
	}
	return Reply{
		Text:    textWebApp,
		Choices: [][]Choice{{{Label: labelOpenWebApp, WebAppURL: link}}},
	}
}

// MiniAppLink добавляет user_id к адресу мини-приложения.
func MiniAppLink(base string, id shared.UserID) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("user_id", strconv.FormatInt(id.Int64(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}
