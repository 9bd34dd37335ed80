package sanction

var reasonTexts = []string{
	"Other",
	"Violence, abuse or criminal content",
	"Hate and harassment",
	"Suicide or self-harm",
	"NSFW content",
	"Misinformation",
	"Dangerous content",
	"Personal data leak",
	"Copyright/intellectual property violation",
}

// Returns the human readable text of a report reason code.
func ReasonText(code int) (string, bool) {
	if code < 0 || code >= len(reasonTexts) {
		return "", false
	}
	return reasonTexts[code], true
}
