package engine

import (
	"fmt"
	"strings"
	"time"

	"mamabot/internal/domain"
)

const welcomeEN = "Welcome to the Antenatal Education Chatbot! I am here to help you with information about your pregnancy journey.\n\n" +
	"This is a research study chatbot that provides educational information about maternal health based on WHO and Kenya Ministry of Health guidelines.\n\n" +
	"Important: This is educational information, not medical diagnosis. Always consult your healthcare provider for medical advice.\n\n" +
	"Do you consent to participate in this study and receive antenatal education messages? Please reply YES or NO."

const welcomeSW = "Karibu kwenye Chatbot ya Elimu ya Ujauzito! Niko hapa kukusaidia na habari kuhusu safari yako ya ujauzito.\n\n" +
	"Hii ni chatbot ya utafiti inayotoa habari za kielimu kuhusu afya ya mama kulingana na miongozo ya WHO na Wizara ya Afya ya Kenya.\n\n" +
	"Muhimu: Hii ni habari ya kielimu, si utambuzi wa kimatibabu. Daima wasiliana na mtoa huduma wako wa afya kwa ushauri wa kimatibabu.\n\n" +
	"Je, unakubali kushiriki katika utafiti huu na kupokea ujumbe wa elimu ya ujauzito? Tafadhali jibu NDIYO au HAPANA."

const emergencyHeaderEN = "URGENT: This sounds like it could be a danger sign that requires immediate medical attention. Please do the following right away:\n\n" +
	"1. Go to your nearest health facility immediately or call emergency services.\n" +
	"2. If you cannot travel, ask someone nearby to help you get to the hospital.\n" +
	"3. Do NOT wait to see if symptoms improve on their own.\n\n"

const emergencyHeaderSW = "DHARURA: Hii inaonekana kama dalili ya hatari inayohitaji matibabu ya haraka. Tafadhali fanya yafuatayo mara moja:\n\n" +
	"1. Nenda hospitali iliyo karibu nawe mara moja au piga simu ya dharura.\n" +
	"2. Ikiwa huwezi kusafiri, mwombe mtu aliye karibu akusaidie kwenda hospitalini.\n" +
	"3. USISUBIRI kuona kama dalili zitaboreshwa zenyewe.\n\n"

const emergencyFooterEN = "\n\nThis is educational information, not medical diagnosis. Always consult your healthcare provider for medical advice."

const emergencyFooterSW = "\n\nHii ni taarifa ya kielimu, si utambuzi wa kimatibabu. Daima wasiliana na mtoa huduma wako wa afya kwa ushauri wa kimatibabu."

func welcomeText(language string) string {
	if language == "sw" {
		return welcomeSW
	}
	return welcomeEN
}

func consentThanksText(language string) string {
	if language == "sw" {
		return "Asante kwa kukubali kushiriki! Jina lako ni nani?"
	}
	return "Thank you for consenting to participate! What is your name?"
}

func consentDeclinedText(language string) string {
	if language == "sw" {
		return "Asante kwa jibu lako. Unaweza kutuandikia wakati wowote ukibadilisha mawazo. Uwe salama, Mama!"
	}
	return "Thank you for your response. You can message us anytime if you change your mind. Take care, Mama!"
}

func consentRepromptText(language string) string {
	if language == "sw" {
		return "Tafadhali jibu NDIYO au HAPANA kukubali kushiriki katika utafiti."
	}
	return "Please reply YES or NO to consent to participate in the study."
}

func namePromptText(language, name string) string {
	if language == "sw" {
		return fmt.Sprintf("Nimefurahi kukufahamu, %s! Una ujauzito wa wiki ngapi? Tafadhali jibu kwa nambari (kwa mfano: 20).", name)
	}
	return fmt.Sprintf("Nice to meet you, %s! How many weeks pregnant are you? Please reply with a number (for example: 20).", name)
}

func weeksRepromptText(language string, min, max int) string {
	if language == "sw" {
		return fmt.Sprintf("Tafadhali andika nambari sahihi ya wiki (kati ya %d na %d). Kwa mfano: 20", min, max)
	}
	return fmt.Sprintf("Please enter a valid number of weeks (between %d and %d). For example: 20", min, max)
}

func registeredText(language string, weeks int, edd time.Time) string {
	if language == "sw" {
		return fmt.Sprintf("Umesajiliwa! Una ujauzito wa wiki %d. Tarehe yako ya kujifungua inakadiriwa kuwa %s.\n\n"+
			"Sasa unaweza kuniuliza maswali yoyote kuhusu ujauzito wako. Naweza kusaidia na:\n"+
			"- Lishe na chakula\n- Dalili za hatari\n- Maandalizi ya kujifungua\n- Maumivu ya kawaida\n- Miadi ya kliniki (ANC)\n- Utunzaji wa mtoto mchanga\n\n"+
			"Andika tu swali lako na nitajitahidi kukusaidia, Mama!", weeks, edd.Format("02 January 2006"))
	}
	return fmt.Sprintf("You are registered! You are %d weeks pregnant. Your expected delivery date is approximately %s.\n\n"+
		"You can now ask me any questions about your pregnancy. I can help with:\n"+
		"- Nutrition and diet\n- Danger signs to watch for\n- Birth preparedness\n- Common discomforts\n- ANC appointments\n- Newborn care\n\n"+
		"Just type your question and I will do my best to help you, Mama!", weeks, edd.Format("January 2, 2006"))
}

// advisoryText composes the emergency reply: fixed urgent preamble, the
// facility contact lines, and the educational disclaimer footer.
func advisoryText(language string, facilities []domain.FacilityRecord) string {
	var b strings.Builder
	if language == "sw" {
		b.WriteString(emergencyHeaderSW)
		b.WriteString("Hospitali za karibu:\n")
	} else {
		b.WriteString(emergencyHeaderEN)
		b.WriteString("Nearest facilities:\n")
	}
	lines := make([]string, 0, len(facilities))
	for _, f := range facilities {
		lines = append(lines, "- "+f.ContactLine())
	}
	b.WriteString(strings.Join(lines, "\n"))
	if language == "sw" {
		b.WriteString(emergencyFooterSW)
	} else {
		b.WriteString(emergencyFooterEN)
	}
	return b.String()
}
