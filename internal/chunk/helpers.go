package chunk

// estimateTokens approximates the token count of content without invoking a
// tokenizer, at roughly TokensPerChar characters per token. Non-empty
// content always counts as at least one token.
func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	n := len(content) / TokensPerChar
	if n < 1 {
		return 1
	}
	return n
}

// DetectContentType maps a file extension to its content type. Unknown
// extensions are treated as plain text.
func DetectContentType(ext string) ContentType {
	switch ext {
	case ".md", ".markdown":
		return ContentTypeMarkdown
	case ".pdf":
		return ContentTypePDF
	case ".xlsx", ".xls", ".csv", ".ods":
		return ContentTypeSpreadsheet
	case ".pptx", ".ppt", ".odp":
		return ContentTypePresentation
	default:
		return ContentTypeText
	}
}
