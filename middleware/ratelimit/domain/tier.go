package domain

// Tier é a classe de assinatura do usuário autenticado.
type Tier string

const (
	TierFree        Tier = "free"
	TierTrial       Tier = "trial"
	TierPremium     Tier = "premium"
	TierPremiumPlus Tier = "premium_plus"
)

// Tiers lista as classes conhecidas, na ordem de registro das políticas.
func Tiers() []Tier {
	return []Tier{TierFree, TierTrial, TierPremium, TierPremiumPlus}
}

// TierConfigName retorna o nome da política de uma classe ("user-<tier>").
func TierConfigName(t Tier) string { return "user-" + string(t) }
