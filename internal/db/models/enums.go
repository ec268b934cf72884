package models

// Sector is the industry sector an organization belongs to
type Sector string

const (
	SectorHealth        Sector = "health"
	SectorEnergy        Sector = "energy"
	SectorFinance       Sector = "finance"
	SectorGovernment    Sector = "government"
	SectorEducation     Sector = "education"
	SectorTechnology    Sector = "technology"
	SectorManufacturing Sector = "manufacturing"
	SectorRetail        Sector = "retail"
	SectorTelecom       Sector = "telecom"
	SectorOther         Sector = "other"
)

var validSectors = map[Sector]bool{
	SectorHealth: true, SectorEnergy: true, SectorFinance: true, SectorGovernment: true,
	SectorEducation: true, SectorTechnology: true, SectorManufacturing: true,
	SectorRetail: true, SectorTelecom: true, SectorOther: true,
}

// Valid reports whether s is a known sector
func (s Sector) Valid() bool { return validSectors[s] }

// Region is the geographic region an organization operates in
type Region string

const (
	RegionNAEast Region = "NA-East"
	RegionNAWest Region = "NA-West"
	RegionEU     Region = "EU"
	RegionAPAC   Region = "APAC"
	RegionLATAM  Region = "LATAM"
	RegionMEA    Region = "MEA"
)

var validRegions = map[Region]bool{
	RegionNAEast: true, RegionNAWest: true, RegionEU: true,
	RegionAPAC: true, RegionLATAM: true, RegionMEA: true,
}

// Valid reports whether r is a known region
func (r Region) Valid() bool { return validRegions[r] }

// AttackVector classifies how an incident was carried out. Campaigns are keyed on it.
type AttackVector string

const (
	AttackVectorAIPhishing          AttackVector = "ai_phishing"
	AttackVectorDeepfakeVoice       AttackVector = "deepfake_voice"
	AttackVectorDeepfakeVideo       AttackVector = "deepfake_video"
	AttackVectorPromptInjection     AttackVector = "prompt_injection"
	AttackVectorModelPoisoning      AttackVector = "model_poisoning"
	AttackVectorLLMDataExfiltration AttackVector = "llm_data_exfiltration"
	AttackVectorAutomatedRecon      AttackVector = "automated_recon"
	AttackVectorOther               AttackVector = "other"
)

var validAttackVectors = map[AttackVector]bool{
	AttackVectorAIPhishing: true, AttackVectorDeepfakeVoice: true, AttackVectorDeepfakeVideo: true,
	AttackVectorPromptInjection: true, AttackVectorModelPoisoning: true,
	AttackVectorLLMDataExfiltration: true, AttackVectorAutomatedRecon: true, AttackVectorOther: true,
}

// Valid reports whether v is a known attack vector
func (v AttackVector) Valid() bool { return validAttackVectors[v] }

// ImpactLevel is the severity an organization assigns to an incident
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

var impactRank = map[ImpactLevel]int{
	ImpactLow:      1,
	ImpactMedium:   2,
	ImpactHigh:     3,
	ImpactCritical: 4,
}

// Valid reports whether l is a known impact level
func (l ImpactLevel) Valid() bool { return impactRank[l] > 0 }

// Rank orders impact levels from low (1) to critical (4); unknown levels rank 0
func (l ImpactLevel) Rank() int { return impactRank[l] }
