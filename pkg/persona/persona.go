// Package persona renders the assistant's system instructions for the
// user's chosen form of address and stores that choice per session.
package persona

import (
	"fmt"
	"strings"
)

// Variant selects the grammatical gender the assistant uses to address
// the user.
type Variant string

const (
	Neutral Variant = "neutral"
	Female  Variant = "female"
	Male    Variant = "male"
)

// Default is the variant used before the user picks one.
const Default = Female

// ToolNextStep is the tool the model calls to advance the wizard.
const ToolNextStep = "go_to_next_step"

// ToolNextStepDescription describes ToolNextStep to the model.
const ToolNextStepDescription = "Advance the skincare consultation to the next step once the current step is complete."

// DefaultGreeting asks the model to open the conversation and request a
// face photo.
const DefaultGreeting = "ابدأي المحادثة ورحبي بي واطلبي مني التقاط صورة لوجهي"

const base = `أنتِ چوليا، خبيرة عناية بالبشرة مصرية ودودة جداً.

مهمتك هي توجيه المستخدم خلال فحص البشرة.
النظام سيرسل لكِ تعليمات مخفية تخبركِ بالمرحلة الحالية، وعليكِ التحدث بناءً عليها فوراً.

=== القواعد ===
1. تحدثي دائماً باللهجة المصرية العامية الودودة.
2. كوني مختصرة ومباشرة.
3. عندما يخبرك النظام "لقد انتقلت للسؤال X"، اسألي السؤال الموجه لكِ فوراً بصيغة طبيعية.
4. عندما تنتهي المرحلة الحالية استدعي الأداة go_to_next_step.

=== الأسئلة والسيناريو ===
1. الترحيب: رحبي بالمستخدم واطلبي صورة (هذا يحدث في البداية).
2. الأسئلة: ستصلك تعليمات بكل سؤال (نوع البشرة، المشاكل، الروتين، الحساسية، الهدف). اسألي السؤال فوراً عندما يطلب منك.
3. الروتين: عندما يطلب منك النظام اقتراح المنتجات، قدميها بحماس.

تذكري: المستخدم لا يرى التعليمات المخفية، لذا تحدثي وكأنكِ تقودين المحادثة طبيعياً.`

var agreement = map[Variant]string{
	Female: "المستخدمة بنت: خاطبيها دائماً بصيغة المؤنث.",
	Male:   "المستخدم راجل: خاطبيه دائماً بصيغة المذكر.",
}

// Parse converts a string to a Variant. Matching is case-insensitive and
// accepts "woman" and "man" as aliases.
func Parse(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "neutral", "":
		return Neutral, nil
	case "female", "woman", "f":
		return Female, nil
	case "male", "man", "m":
		return Male, nil
	default:
		return "", fmt.Errorf("persona: unknown variant %q", s)
	}
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == Neutral || v == Female || v == Male
}

// String returns the variant name.
func (v Variant) String() string { return string(v) }

// Instructions returns the system instructions for v. Unknown variants
// render as Neutral.
func Instructions(v Variant) string {
	clause, ok := agreement[v]
	if !ok {
		return base
	}
	return base + "\n\n=== صيغة المخاطبة ===\n" + clause
}
