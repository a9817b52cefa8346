package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"org-planner/internal/config"
	"org-planner/internal/model"
	"org-planner/internal/planner"
	"org-planner/internal/repository"
	"org-planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageName
	stageDetails
	stageCategory
	stageDeadline
	stageHours
	stageUniqueDays
	stageImportance
	stageRecurring
	stageRecurrenceType
	stageRecurrenceInterval
	stageRecurrenceDayOfWeek
	stageRecurrenceDayOfMonth
	stageRecurrenceEndDate
)

const (
	cbCompletePrefix = "complete:"
	cbDeletePrefix   = "delete:"
	cbConfirmPrefix  = "confirm:"
	cbCancelPrefix   = "cancel:"
)

const (
	btnSkip             = "⏭️ Пропустить"
	btnYes              = "Да"
	btnNo               = "Нет"
	btnConfirm          = "✅ Подтвердить"
	btnCancel           = "↩️ Отмена"
	btnCancelDialog     = "⏪ Отменить ввод"
	noCategory          = "Без категории"
	iconRecurring       = "♻️"
	menuLabelNewTask    = "➕ Новая задача"
	menuLabelTasks      = "🌳 Дерево задач"
	menuLabelCapacity   = "📊 Загрузка"
	menuLabelHelp       = "ℹ️ Помощь"
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
)

type confirmationRequest struct {
	nodeID uint
	action confirmationAction
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	taskSvc       *service.TaskService
	reportSvc     *service.ReportService
	config        *config.Config
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, taskSvc *service.TaskService, reportSvc *service.ReportService, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		taskSvc:       taskSvc,
		reportSvc:     reportSvc,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Диалог отменён. Я здесь, чтобы начать заново.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		log.Printf("[info] conversation step %d from %d", b.getConversation(msg.From.ID).stage, msg.From.ID)
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /newtask, чтобы добавить задачу, или /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "capacity":
		return b.handleCapacity(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "newcategory":
		return b.handleNewCategory(ctx, msg)
	case "tasks", "tree":
		return b.handleListTasks(ctx, msg)
	case "complete":
		return b.handleComplete(ctx, msg)
	case "reopen":
		return b.handleReopen(ctx, msg)
	case "interval":
		return b.handleInterval(msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Диалог создания задачи отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf(
		"👋 Привет, %s!\n<b>Я планировщик с деревом задач: слежу за срочностью и загрузкой.</b>\n\nКоманды:\n"+
			"• /newtask — добавить новую задачу\n"+
			"• /newcategory &lt;имя&gt; — добавить категорию\n"+
			"• /tasks — показать дерево задач\n"+
			"• /complete &lt;id&gt; — отметить задачу выполненной\n"+
			"• /capacity [важность] — отчёт по загрузке\n"+
			"• /interval &lt;часы&gt; — интервал отчётов\n"+
			"• /report — ежедневный отчёт\n"+
			"• /help — подсказки\n"+
			"• /cancel — отменить текущий ввод",
		escape(name),
	)

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Подсказки</b>\n" +
		"• /newtask — добавить задачу пошагово (дедлайн, оценка времени, важность, повторение)\n" +
		"• /newcategory &lt;имя&gt; — создать категорию верхнего уровня\n" +
		"• /tasks — дерево задач: 🔴 критично, 🟠 срочно, 🟡 скоро, 🟢 спокойно\n" +
		"• /complete &lt;id&gt; [комментарий] — закрыть задачу; повторяющаяся создаст следующую\n" +
		"• /reopen &lt;id&gt; — вернуть задачу в работу\n" +
		"• /delete &lt;id&gt; — удалить узел вместе с поддеревом\n" +
		"• /capacity [all|low|moderate|high|critical] — сколько часов нужно против доступных\n" +
		"• /interval &lt;часы&gt; — как часто присылать отчёт\n" +
		"• /report — отправить отчёт сейчас\n" +
		"• /cancel — отменить текущий ввод"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reportSvc.DailySummary(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сформировать отчёт: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

const defaultCapacityDays = 28

func (b *Bot) handleCapacity(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	band := planner.BandAll
	if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
		band, err = planner.ParseBand(strings.ToLower(args))
		if err != nil {
			return b.sendText(msg.Chat.ID, "Не знаю такую группу важности. Варианты: all, minimal, low, moderate, high, critical.")
		}
	}

	text, err := b.reportSvc.CapacitySummary(ctx, *user, band, defaultCapacityDays, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось посчитать загрузку: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleNewCategory(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Укажи имя категории: /newcategory Работа")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	category, err := b.taskSvc.CreateCategory(ctx, user, name, nil)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось создать категорию: %s", escape(err.Error())))
	}
	log.Printf("[info] category created id=%d user=%d", category.ID, user.ID)
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📂 Категория «%s» создана (#%d).", escape(category.Name), category.ID))
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	log.Printf("[info] start new task conversation user=%d", msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageName})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Создаём новую задачу.\n<b>Шаг 1:</b> как её назвать?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageName:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Название не может быть пустым.", cancelKeyboard())
		}
		state.input.Name = text
		state.stage = stageDetails
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Добавь короткое описание (или нажми «Пропустить»).", skipKeyboard())
	case stageDetails:
		if !isSkipInput(text) {
			state.input.Details = text
		}
		state.stage = stageCategory
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Выбери категорию или отправь свою (можно «Пропустить»).", categoryKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageDeadline
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ Укажи дедлайн в формате <code>2025-11-30</code> (или «Пропустить»).", skipKeyboard())
	case stageDeadline:
		if !isSkipInput(text) {
			parsed, err := time.Parse("2006-01-02", text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Не могу распознать дату. Используй формат <code>2025-11-30</code> или «Пропустить».", skipKeyboard())
			}
			state.input.Deadline = &parsed
		}
		state.stage = stageHours
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏱ Сколько часов займёт задача? (например, 4 или 2.5, можно «Пропустить»)", skipKeyboard())
	case stageHours:
		if !isSkipInput(text) {
			hours, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
			if err != nil || hours < 0 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Часы должны быть неотрицательным числом, например 2.5.", skipKeyboard())
			}
			state.input.CompletionTime = &hours
		}
		state.stage = stageUniqueDays
		return b.sendWithReplyMarkup(msg.Chat.ID, "📆 Сколько отдельных дней работы потребуется? (целое число, можно «Пропустить»)", skipKeyboard())
	case stageUniqueDays:
		if !isSkipInput(text) {
			days, err := strconv.Atoi(text)
			if err != nil || days < 0 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Нужно целое неотрицательное число дней.", skipKeyboard())
			}
			state.input.UniqueDaysRequired = &days
		}
		state.stage = stageImportance
		return b.sendWithReplyMarkup(msg.Chat.ID, "⭐ Насколько задача важна? (1–10, по умолчанию 1)", skipKeyboard())
	case stageImportance:
		if !isSkipInput(text) {
			importance, err := strconv.Atoi(text)
			if err != nil || importance < 1 || importance > 10 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Важность — целое число от 1 до 10.", skipKeyboard())
			}
			state.input.Importance = importance
		}
		state.stage = stageRecurring
		return b.sendWithReplyMarkup(msg.Chat.ID, "🔁 Сделать задачу повторяющейся?", yesNoKeyboard())
	case stageRecurring:
		lower := strings.ToLower(text)
		if lower == "да" || lower == "yes" || lower == "y" {
			state.stage = stageRecurrenceType
			return b.sendWithReplyMarkup(msg.Chat.ID, "🔄 Как часто повторять?", recurrenceKeyboard())
		}
		if lower == "нет" || lower == "no" || lower == "n" || lower == "-" {
			err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
			b.clearConversation(msg.From.ID)
			return err
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, "Нажми «Да» или «Нет».", yesNoKeyboard())
	case stageRecurrenceType:
		rtype, ok := parseRecurrenceAnswer(text)
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Выбери вариант на клавиатуре: ежедневно, еженедельно, ежемесячно или ежегодно.", recurrenceKeyboard())
		}
		state.input.RecurrenceType = rtype
		state.stage = stageRecurrenceInterval
		return b.sendWithReplyMarkup(msg.Chat.ID, "🔢 С каким интервалом? (1 = каждый раз, 2 = через раз, «Пропустить» = 1)", skipKeyboard())
	case stageRecurrenceInterval:
		if !isSkipInput(text) {
			interval, err := strconv.Atoi(text)
			if err != nil || interval < 1 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Интервал — целое число от 1.", skipKeyboard())
			}
			state.input.RecurrenceInterval = interval
		}
		switch state.input.RecurrenceType {
		case model.RecurrenceWeekly:
			state.stage = stageRecurrenceDayOfWeek
			return b.sendWithReplyMarkup(msg.Chat.ID, "📅 В какой день недели? (0 = воскресенье … 6 = суббота, можно «Пропустить»)", skipKeyboard())
		case model.RecurrenceMonthly:
			state.stage = stageRecurrenceDayOfMonth
			return b.sendWithReplyMarkup(msg.Chat.ID, "📅 В какой день месяца? (1–31, если числа нет в месяце — возьмём последний день, можно «Пропустить»)", skipKeyboard())
		default:
			state.stage = stageRecurrenceEndDate
			return b.sendWithReplyMarkup(msg.Chat.ID, "🏁 До какой даты повторять? (<code>2026-12-31</code> или «Пропустить» — без ограничения)", skipKeyboard())
		}
	case stageRecurrenceDayOfWeek:
		if !isSkipInput(text) {
			day, err := strconv.Atoi(text)
			if err != nil || day < 0 || day > 6 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "День недели — число от 0 (воскресенье) до 6 (суббота).", skipKeyboard())
			}
			state.input.RecurrenceDayOfWeek = &day
		}
		state.stage = stageRecurrenceEndDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏁 До какой даты повторять? (<code>2026-12-31</code> или «Пропустить» — без ограничения)", skipKeyboard())
	case stageRecurrenceDayOfMonth:
		if !isSkipInput(text) {
			day, err := strconv.Atoi(text)
			if err != nil || day < 1 || day > 31 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "День месяца — число от 1 до 31.", skipKeyboard())
			}
			state.input.RecurrenceDayOfMonth = &day
		}
		state.stage = stageRecurrenceEndDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏁 До какой даты повторять? (<code>2026-12-31</code> или «Пропустить» — без ограничения)", skipKeyboard())
	case stageRecurrenceEndDate:
		if !isSkipInput(text) {
			parsed, err := time.Parse("2006-01-02", text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Не могу распознать дату. Формат <code>2026-12-31</code> или «Пропустить».", skipKeyboard())
			}
			state.input.RecurrenceEndDate = &parsed
		}
		err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Диалог сброшен. Попробуй ещё раз через /newtask.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CreateTask(ctx, user, input)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось сохранить задачу: %s", escape(err.Error())))
	}

	log.Printf("[info] task created id=%d user=%d recurring=%t", task.ID, user.ID, task.IsRecurringTemplate)

	var summary strings.Builder
	summary.WriteString("✅ <b>Задача сохранена</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", task.ID))
	summary.WriteString(fmt.Sprintf("• <b>Название:</b> %s\n", escape(normalizeTitle(task.Name))))
	if task.Details != "" {
		summary.WriteString(fmt.Sprintf("• <b>Описание:</b> %s\n", escape(task.Details)))
	}
	if task.Deadline != nil {
		summary.WriteString(fmt.Sprintf("• <b>Дедлайн:</b> %s\n", task.Deadline.Format("2006-01-02")))
	}
	if task.CompletionTime != nil {
		summary.WriteString(fmt.Sprintf("• <b>Оценка:</b> %.1f ч\n", *task.CompletionTime))
	}
	summary.WriteString(fmt.Sprintf("• <b>Важность:</b> %d\n", task.Importance))
	if task.IsRecurringTemplate {
		summary.WriteString(fmt.Sprintf("• <b>Повтор:</b> %s\n", escape(planner.Describe(planner.RuleOf(task)))))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(summary.String()))
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendTaskTree(ctx, chatID, user)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	log.Printf("[info] list tasks for user=%d", user.ID)
	return b.sendTaskTree(ctx, msg.Chat.ID, user)
}

func (b *Bot) handleComplete(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи: /complete 12 [комментарий]")
	}

	parts := strings.SplitN(args, " ", 2)
	taskID64, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return b.sendText(msg.Chat.ID, "ID задачи должен быть числом.")
	}
	comment := ""
	if len(parts) == 2 {
		comment = strings.TrimSpace(parts[1])
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	task, spawned, err := b.taskSvc.Complete(ctx, user, uint(taskID64), comment, time.Now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Задача не найдена.")
		}
		if task != nil {
			// Completion saved, only the follow-up failed.
			return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Задача «%s» выполнена, но следующую не удалось создать: %s",
				escape(normalizeTitle(task.Name)), escape(err.Error())))
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	if spawned != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Задача «%s» выполнена. ♻️ Следующая создана на %s (#%d).",
			escape(normalizeTitle(task.Name)), spawned.Deadline.Format("2006-01-02"), spawned.ID))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Name))))
}

func (b *Bot) handleReopen(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи: /reopen 12")
	}
	taskID64, err := strconv.ParseUint(args, 10, 64)
	if err != nil {
		return b.sendText(msg.Chat.ID, "ID задачи должен быть числом.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.Reopen(ctx, user, uint(taskID64))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Задача не найдена.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("↩️ Задача «%s» снова в работе.", escape(normalizeTitle(task.Name))))
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		if req.action == actionDelete {
			return b.deleteNodeAndRefresh(ctx, msg.Chat.ID, msg.From, req.nodeID)
		}
		return b.completeTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.nodeID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		var prompt string
		if req.action == actionDelete {
			prompt = "Подтверди или отмени удаление узла."
		} else {
			prompt = "Подтверди или отмени выполнение задачи."
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, prompt, confirmKeyboard())
	}
}

// SendDailyReports sends a summary to every known user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := b.reportSvc.DailySummary(ctx, user, now)
		if err != nil {
			log.Printf("build summary for user %d: %v", user.TelegramID, err)
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			log.Printf("send summary to %d: %v", user.TelegramID, err)
		}
	}
	return nil
}

func (b *Bot) handleInterval(msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		current := "5 часов"
		if b.config != nil && b.config.ReportInterval > 0 {
			current = fmt.Sprintf("%d часов", int(b.config.ReportInterval.Hours()))
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Текущий интервал отчётов: %s. Укажи число часов, например: /interval 4", current))
	}
	hours, err := strconv.Atoi(args)
	if err != nil || hours <= 0 {
		return b.sendText(msg.Chat.ID, "Интервал должен быть положительным числом часов, например /interval 6")
	}
	b.mu.Lock()
	b.config.ReportInterval = time.Duration(hours) * time.Hour
	b.mu.Unlock()
	return b.sendText(msg.Chat.ID, fmt.Sprintf("Интервал уведомлений обновлён: каждые %d часов.", hours))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Главное меню")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func (b *Bot) sendTaskTree(ctx context.Context, chatID int64, user *model.User) error {
	forest, err := b.taskSvc.Forest(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось получить задачи: %s", escape(err.Error())))
	}

	now := time.Now()
	var builder strings.Builder
	var buttons [][]tgbotapi.InlineKeyboardButton
	open := 0

	builder.WriteString("🌳 <b>Дерево задач</b>\n")
	builder.WriteString("Нажми кнопку, чтобы отметить задачу выполненной или удалить узел.\n\n")

	var render func(n *model.Node, depth int)
	render = func(n *model.Node, depth int) {
		indent := strings.Repeat("   ", depth)
		if !n.IsTask() {
			builder.WriteString(fmt.Sprintf("%s📂 <b>%s</b> · важность %d · срочность %d\n",
				indent, escape(normalizeTitle(n.Name)), planner.EffectiveImportance(n), planner.EffectiveUrgency(n, now)))
			for _, child := range n.Children {
				render(child, depth+1)
			}
			return
		}
		if n.IsCompleted {
			return
		}
		open++
		builder.WriteString(indent + formatTaskLine(n, now))
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", n.ID, shortTitle(n.Name, 20)), fmt.Sprintf("%s%d", cbCompletePrefix, n.ID)),
		}
		if n.InRecurringLineage() {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("\U0001F5D1 Удалить", fmt.Sprintf("%s%d", cbDeletePrefix, n.ID)))
		}
		buttons = append(buttons, row)
	}
	for _, root := range forest {
		render(root, 0)
	}

	if open == 0 {
		return b.sendText(chatID, "У тебя нет активных задач. Добавь новую через /newtask.")
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	data := cb.Data

	switch {
	case strings.HasPrefix(data, cbCompletePrefix):
		log.Printf("[info] callback complete request user=%d node=%s", cb.From.ID, strings.TrimPrefix(data, cbCompletePrefix))
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		nodeID, err := parseNodeID(data, cbCompletePrefix)
		if err != nil {
			return nil
		}
		return b.askCompleteConfirmation(ctx, cb.Message.Chat.ID, cb.From, nodeID)
	case strings.HasPrefix(data, cbDeletePrefix):
		log.Printf("[info] callback delete request user=%d node=%s", cb.From.ID, strings.TrimPrefix(data, cbDeletePrefix))
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		nodeID, err := parseNodeID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		return b.askDeleteConfirmation(ctx, cb.Message.Chat.ID, cb.From, nodeID)
	case strings.HasPrefix(data, cbConfirmPrefix):
		log.Printf("[info] callback confirm complete user=%d node=%s", cb.From.ID, strings.TrimPrefix(data, cbConfirmPrefix))
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		nodeID, err := parseNodeID(data, cbConfirmPrefix)
		if err != nil {
			return nil
		}
		return b.completeTaskAndRefresh(ctx, cb.Message.Chat.ID, cb.From, nodeID)
	case strings.HasPrefix(data, cbCancelPrefix):
		log.Printf("[info] callback cancel user=%d node=%s", cb.From.ID, strings.TrimPrefix(data, cbCancelPrefix))
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		return nil
	default:
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		return nil
	}
}

func (b *Bot) askCompleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, nodeID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetNode(ctx, user, nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(chatID, "Задача не найдена.")
		}
		return err
	}

	if task.IsCompleted {
		return b.sendText(chatID, "Задача уже выполнена.")
	}

	text := fmt.Sprintf("Отметить задачу «%s» (#%d) как выполненную?", escape(normalizeTitle(task.Name)), task.ID)
	b.setConfirmation(from.ID, confirmationRequest{nodeID: task.ID, action: actionComplete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, nodeID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	node, err := b.taskSvc.GetNode(ctx, user, nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(chatID, "Узел не найден.")
		}
		return err
	}

	text := fmt.Sprintf("Удалить «%s» (#%d) вместе с поддеревом?", escape(normalizeTitle(node.Name)), node.ID)
	b.setConfirmation(from.ID, confirmationRequest{nodeID: node.ID, action: actionDelete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) completeTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, nodeID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	now := time.Now()
	task, spawned, err := b.taskSvc.Complete(ctx, user, nodeID, "", now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendTextWithRemove(chatID, "Задача не найдена или уже удалена.")
		}
		if task != nil {
			if sendErr := b.sendTextWithRemove(chatID, fmt.Sprintf("✅ Задача «%s» выполнена, но следующую не удалось создать: %s",
				escape(normalizeTitle(task.Name)), escape(err.Error()))); sendErr != nil {
				return sendErr
			}
			return b.sendTaskTree(ctx, chatID, user)
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	var info string
	if spawned != nil {
		info = fmt.Sprintf("✅ Задача «%s» выполнена. ♻️ Следующая создана на %s (#%d).",
			escape(normalizeTitle(task.Name)), spawned.Deadline.Format("2006-01-02"), spawned.ID)
	} else {
		info = fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Name)))
	}
	log.Printf("[info] task completed id=%d user=%d spawned=%t", task.ID, user.ID, spawned != nil)
	if err := b.sendTextWithRemove(chatID, info); err != nil {
		return err
	}

	return b.sendTaskTree(ctx, chatID, user)
}

func (b *Bot) deleteNodeAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, nodeID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	node, err := b.taskSvc.GetNode(ctx, user, nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendTextWithRemove(chatID, "Узел не найден или уже удалён.")
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	if err := b.taskSvc.DeleteNode(ctx, user, nodeID); err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	log.Printf("[info] node deleted id=%d user=%d", node.ID, user.ID)
	if err := b.sendTextWithRemove(chatID, fmt.Sprintf("\U0001F5D1 «%s» удалён вместе с поддеревом.", escape(normalizeTitle(node.Name)))); err != nil {
		return err
	}

	return b.sendTaskTree(ctx, chatID, user)
}

func parseNodeID(data, prefix string) (uint, error) {
	raw := strings.TrimPrefix(data, prefix)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

// handleDelete удаляет узел вместе с поддеревом.
func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи ID узла: /delete 12")
	}

	nodeID64, err := strconv.ParseUint(args, 10, 64)
	if err != nil {
		return b.sendText(msg.Chat.ID, "ID должен быть числом.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	node, err := b.taskSvc.GetNode(ctx, user, uint(nodeID64))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Узел не найден.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	if err := b.taskSvc.DeleteNode(ctx, user, uint(nodeID64)); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось удалить узел: %s", escape(err.Error())))
	}

	return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 «%s» удалён вместе с поддеревом.", escape(normalizeTitle(node.Name))))
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelCapacity):
		return true, b.handleCapacity(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelCapacity),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func categoryKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Учеба"),
			tgbotapi.NewKeyboardButton("Работа"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Покупки"),
			tgbotapi.NewKeyboardButton("Здоровье"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func recurrenceKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Ежедневно"),
			tgbotapi.NewKeyboardButton("Еженедельно"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Ежемесячно"),
			tgbotapi.NewKeyboardButton("Ежегодно"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func parseRecurrenceAnswer(text string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "ежедневно", "daily":
		return model.RecurrenceDaily, true
	case "еженедельно", "weekly":
		return model.RecurrenceWeekly, true
	case "ежемесячно", "monthly":
		return model.RecurrenceMonthly, true
	case "ежегодно", "yearly":
		return model.RecurrenceYearly, true
	default:
		return "", false
	}
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "пропустить" || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "подтвердить" || value == "да"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "отмена"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "отменить ввод" || value == "отмена"
}

func formatTaskLine(task *model.Node, now time.Time) string {
	var b strings.Builder

	enriched := planner.Enrich(*task, now)
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s", tierIcon(enriched.UrgencyTier), task.ID, escape(normalizeTitle(task.Name))))
	if task.InRecurringLineage() {
		b.WriteString(" " + iconRecurring)
	}
	b.WriteByte('\n')

	if task.Deadline != nil {
		if enriched.Overdue {
			b.WriteString(fmt.Sprintf("   ⏰ Дедлайн: %s — <b>просрочено</b>\n", task.Deadline.Format("2006-01-02")))
		} else {
			b.WriteString(fmt.Sprintf("   ⏰ Дедлайн: %s · осталось %d дн. · срочность %d/10\n",
				task.Deadline.Format("2006-01-02"), *enriched.DaysUntilDeadline, enriched.UrgencyLevel))
		}
	}
	if task.Details != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Details)))
	}
	return b.String()
}

func tierIcon(tier string) string {
	switch tier {
	case planner.TierCritical:
		return "🔴"
	case planner.TierHigh:
		return "🟠"
	case planner.TierElevated:
		return "🟡"
	default:
		return "🟢"
	}
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func escape(s string) string {
	return html.EscapeString(s)
}
