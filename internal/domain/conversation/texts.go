package conversation

import (
	"fmt"
	"html"

	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// Тексты отправляются с parse_mode=HTML. Пользовательский ввод
// экранируется через esc.

const (
	textWelcome = "👋 <b>Добро пожаловать в бот курса трансформации!</b>\n\n" +
		"Здесь вы найдете материалы курса, домашние задания и сможете отслеживать свой прогресс."

	textNotEnrolled   = "У вас нет доступа к курсу. Пожалуйста, введите код доступа с помощью команды /access."
	textAccessPrompt  = "Пожалуйста, введите код доступа для получения доступа к курсу:"
	textInvalidCode   = "❌ Неверный код доступа. Пожалуйста, проверьте код и попробуйте снова или свяжитесь с администратором курса."
	textMainMenu      = "Выберите действие:"
	textUnrecognized  = "Я не понимаю эту команду. Пожалуйста, используйте меню для навигации."
	textGenericError  = "❌ Произошла ошибка. Пожалуйста, попробуйте позже."
	textFeedbackAsk   = "Пожалуйста, напишите вашу обратную связь или вопрос. Мы ответим вам в ближайшее время:"
	textFeedbackSent  = "✅ Ваша обратная связь успешно отправлена! Спасибо за ваш отзыв."
	textFeedbackStop  = "❌ Отправка обратной связи отменена."
	textFeedbackEmpty = "Обратная связь не может быть пустой."
	textHomeworkSent  = "✅ Ваше домашнее задание успешно отправлено! Куратор скоро его проверит."
	textHomeworkStop  = "❌ Отправка домашнего задания отменена."
	textHomeworkEmpty = "Домашнее задание не может быть пустым."
	textConfirmHint   = "Пожалуйста, подтвердите или отмените отправку кнопками под сообщением."
	textModulesTitle  = "<b>Доступные модули курса:</b>"
	textHomeworkTitle = "<b>Домашние задания:</b>"
	textWebApp        = "Нажмите на кнопку ниже, чтобы открыть интерактивное мини-приложение с вашим прогрессом по курсу:"
	textWebAppOff     = "Мини-приложение пока не настроено. Воспользуйтесь командой /progress."
	textNoHomework    = "Домашнее задание отсутствует"
	textNoDescription = "Описание отсутствует"

	textHelp = "<b>Доступные команды:</b>\n\n" +
		"/start - Начать работу с ботом\n" +
		"/menu - Показать главное меню\n" +
		"/access - Ввести код доступа\n" +
		"/modules - Показать доступные модули\n" +
		"/homework - Показать домашние задания\n" +
		"/homework1 … /homework8 - Отправить решение задания модуля\n" +
		"/progress - Показать ваш прогресс\n" +
		"/tariff - Показать ваш тариф\n" +
		"/webapp - Открыть интерактивное мини-приложение\n" +
		"/feedback - Отправить обратную связь\n" +
		"/info - Информация о курсе\n" +
		"/help - Показать это сообщение"

	textInfoHead = "<b>О курсе трансформации</b>\n\n" +
		"Этот курс создан для глубокой личностной трансформации и раскрытия вашего потенциала. " +
		"Он состоит из %d модулей, каждый из которых раскрывает определенный аспект вашей личности " +
		"и помогает в процессе изменений.\n\n" +
		"<b>Структура курса:</b>\n" +
		"• Модули с теоретическими материалами\n" +
		"• Домашние задания для закрепления результатов\n" +
		"• Дополнительные материалы для углубления знаний\n\n" +
		"<b>Доступные тарифы:</b>\n"

	textInfoTail = "\nДля получения дополнительной информации свяжитесь с нами через раздел 'Обратная связь'."
)

// Подписи кнопок.
const (
	LabelModules     = "📚 Модули курса"
	LabelHomework    = "📝 Домашние задания"
	LabelProgress    = "🔍 Мой прогресс"
	LabelWebApp      = "📊 Мини-приложение"
	LabelFeedback    = "💬 Обратная связь"
	LabelInfo        = "ℹ️ Информация"
	LabelTariff      = "📋 Мой тариф"
	LabelBackToMain  = "↩️ Вернуться в главное меню"
	labelEnterCode   = "Ввести код доступа"
	labelBack        = "↩️ Назад"
	labelToModules   = "↩️ К списку модулей"
	labelToHomeworks = "↩️ Назад к заданиям"
	labelToModule    = "↩️ Назад к модулю"
	labelMaterials   = "📚 Материалы"
	labelAssignment  = "📝 Домашнее задание"
	labelComplete    = "✅ Отметить как пройденный"
	labelSubmitWork  = "📤 Отправить решение"
	labelSend        = "✅ Отправить"
	labelCancel      = "❌ Отмена"
	labelOpenWebApp  = "📊 Открыть интерактивный прогресс"
)

func esc(s string) string {
	return html.EscapeString(s)
}

func textTariffUpgraded(tariff string) string {
	return fmt.Sprintf("✅ Ваш тариф успешно обновлен до <b>%s</b>!", esc(tariff))
}

func textEnrolled(tariff, description string) string {
	return fmt.Sprintf("✅ Добро пожаловать в курс! Ваш тариф: <b>%s</b>\n\n%s", esc(tariff), esc(description))
}

func textWelcomeBack(tariff string) string {
	return fmt.Sprintf("%s\n\nВаш текущий тариф: <b>%s</b>", textWelcome, esc(tariff))
}

func textWelcomeNew() string {
	return textWelcome + "\n\n" + textNotEnrolled
}

func textFeedbackDraft(draft string) string {
	return fmt.Sprintf("<b>Ваша обратная связь:</b>\n\n%s\n\nОтправить?", esc(draft))
}

func textHomeworkPrompt(m shared.ModuleID, assignment string) string {
	return fmt.Sprintf("Пожалуйста, отправьте ваше решение домашнего задания для модуля %d.\n\n"+
		"<b>Задание:</b> %s\n\n"+
		"После отправки ваша работа будет сохранена и передана куратору для проверки.", m, esc(assignment))
}

func textHomeworkDraft(m shared.ModuleID, draft string) string {
	return fmt.Sprintf("<b>Ваше решение домашнего задания для модуля %d:</b>\n\n%s\n\nОтправить?", m, esc(draft))
}

func textModuleLocked(m shared.ModuleID) string {
	return fmt.Sprintf("Модуль %d недоступен на вашем тарифе. Обновите тариф для доступа.", m)
}

func textHomeworkLocked(m shared.ModuleID) string {
	return fmt.Sprintf("Домашнее задание %d недоступно на вашем тарифе. Обновите тариф для доступа.", m)
}

func textModuleCompleted(m shared.ModuleID) string {
	return fmt.Sprintf("Модуль %d отмечен как пройденный! 🎉", m)
}

func textMaterialsTitle(m shared.ModuleID) string {
	return fmt.Sprintf("<b>Дополнительные материалы для модуля %d:</b>\n\n", m)
}

func textAdmin(users int) string {
	return fmt.Sprintf("<b>Админ-панель</b>\n\n"+
		"Пользователей: %d\n\n"+
		"Коды доступа, пользователи, домашние задания и обратная связь управляются через HTTP API (/api/admin).", users)
}

// OperatorFeedbackText - уведомление операторам о новой обратной связи.
func OperatorFeedbackText(from shared.UserID, body string) string {
	return fmt.Sprintf("<b>Новая обратная связь от пользователя %d:</b>\n\n%s", from, esc(body))
}
