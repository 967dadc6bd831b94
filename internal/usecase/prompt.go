package usecase

import (
	"strings"
	"unicode/utf8"

	"chat-worker/internal/domain"
	"chat-worker/internal/modelrouter"
)

const (
	// MaxMemoryChars caps the memory summary, counted in runes.
	MaxMemoryChars = 2000

	titleMaxTokens  = 32
	memoryMaxTokens = 512
)

const baseSystemPrompt = "Sen Türkçe konuşan yardımcı bir sohbet asistanısın."

func buildChatMessages(mode modelrouter.Mode, memory string, history []domain.ChatMessage) []domain.ChatMessage {
	system := baseSystemPrompt
	if mode == modelrouter.ModeThink {
		if m := capMemory(strings.TrimSpace(memory)); m != "" {
			system += "\n\nKullanıcı hakkında önceki konuşmalardan bildiklerin:\n" + m
		}
	}
	out := make([]domain.ChatMessage, 0, len(history)+1)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	return append(out, history...)
}

func buildTitlePrompt(message string) []domain.ChatMessage {
	system := strings.Join([]string{
		"Sen bir başlık üretim aracısın.",
		"Kullanıcının metnini analiz et ve 1-5 kelimelik başlık üret.",
		"",
		"KURAL:",
		"Sadece başlığı yaz. Başka hiçbir şey yazma.",
		"Emoji kullanma. Tırnak kullanma.",
	}, "\n")
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: message},
	}
}

func buildMemoryPrompt(prior, question, answer string) []domain.ChatMessage {
	system := strings.Join([]string{
		"Sen bir hafıza özetleyicisisin.",
		"Mevcut özeti ve son konuşmayı kullanarak kullanıcı hakkında kalıcı bilgileri güncelle.",
		"",
		"KURAL:",
		"Her bilgiyi \"- \" ile başlayan ayrı bir satıra yaz.",
		"Sadece kullanıcının kendisi, tercihleri, hedefleri ve süregelen işleri hakkındaki kalıcı bilgileri tut.",
		"Geçici soruları, selamlaşmaları ve asistanın cevaplarını özetleme.",
		"Önceki bilgilerle çelişen yeni bir bilgi varsa yenisini yaz.",
		"Toplam 2000 karakteri geçme. Başka hiçbir açıklama yazma.",
	}, "\n")

	prior = strings.TrimSpace(prior)
	if prior == "" {
		prior = "(boş)"
	}
	var b strings.Builder
	b.WriteString("Mevcut özet:\n")
	b.WriteString(capMemory(prior))
	b.WriteString("\n\nSon konuşma:\nKullanıcı: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAsistan: ")
	b.WriteString(strings.TrimSpace(answer))

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

// normalizeMemory turns model output into "- " bullet lines capped at
// MaxMemoryChars on a line boundary.
func normalizeMemory(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	bullets := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•·> \t")
		line = trimOrdinal(line)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		bullets = append(bullets, "- "+strings.Join(strings.Fields(line), " "))
	}
	return capMemory(strings.Join(bullets, "\n"))
}

// trimOrdinal strips a leading "1." or "2)" list marker.
func trimOrdinal(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return s[i+1:]
	}
	return s
}

// capMemory keeps whole lines while they fit in MaxMemoryChars. A single
// oversized first line is cut by runes.
func capMemory(s string) string {
	if utf8.RuneCountInString(s) <= MaxMemoryChars {
		return s
	}
	var (
		kept  []string
		total int
	)
	for _, line := range strings.Split(s, "\n") {
		n := utf8.RuneCountInString(line)
		if len(kept) > 0 {
			n++
		}
		if total+n > MaxMemoryChars {
			break
		}
		kept = append(kept, line)
		total += n
	}
	if len(kept) == 0 {
		return string([]rune(s)[:MaxMemoryChars])
	}
	return strings.Join(kept, "\n")
}
