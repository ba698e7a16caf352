package filters

import "regexp"

// Bucket names referenced by the decision rules.
const (
	bucketAttackConfirmed = "attack_confirmed"
	bucketRansomware      = "ransomware"
	bucketDataTheft       = "data_theft"
	bucketDisruption      = "disruption"
	bucketTargetsAuto     = "targets_auto"
	bucketInsider         = "insider"
	bucketPortalAbuse     = "portal_abuse"
	bucketRemoteControl   = "remote_control"
	bucketVulnFound       = "vuln_found"
	bucketCompany         = "company"

	negHypothetical   = "hypothetical"
	negRoutineVuln    = "routine_vuln"
	negUnconfirmed    = "unconfirmed"
	negDenialNoImpact = "denial_noimpact"
	negRoundup        = "roundup_structure"

	negPrefix     = "not_"
	companyWeight = 2
	companyShown  = 6
	bucketShown   = 3
	keepMinFloor  = 5
)

var (
	autoContextRe = regexp.MustCompile(`(?i)\b(veh[ií]culo|coche|automotive|auto(?:motive)?(?:\s*maker|\s*industry)?|car|cars|oem|fabricante|tier[-\s]*[12]|` +
		`dealer(?:ship)?s?|dms|fleet|telematics?|infotainment|ecu|can[-\s]*bus|controller\s*area\s*network|obd|doip|some/ip|` +
		`v2x|keyless|relay\s*attack|evse|charger|ocpp|onstar|uconnect|mercedes\s*me|connected\s*drive|kia\s*connect|` +
		`nissan\s*connect|ford\s*pass|starlink|blue\s*link|we\s*connect)\b`)
	exploitLikeRe = regexp.MustCompile(`(?i)\b(rce|remote\s+code\s+execution|exploit(?:ed|s)?|actively\s+exploited|weaponiz(?:e|ed)|poc|proof\s+of\s+concept|` +
		`unauthenticated|no\s+auth|authentication\s+bypass|privilege\s+escalation)\b`)
	remoteRe = regexp.MustCompile(`(?i)\b(remote\s+start|start\s+(?:engine|car)|unlock|lock|horn|honk|flash(?:\s+lights)?|track|locat(?:e|ion)|geolocat(?:e|ion))\b`)
	portalRe = regexp.MustCompile(`(?i)\b(admin|dealer|customer)\s+portal\b|\bportal\b|\bapi\b|api\s+(?:key|token)|\btoken\b|\bbearer\b|telematics?\b|` +
		`connected\s*drive|car[- ]?net|uconnect|onstar|mercedes\s*me|ford\s*pass|kia\s*connect|nissan\s*connect|` +
		`mysubaru|incontrol|hondalink|acuralink|volvo\s*(?:on\s*call|cars)|skoda\s*connect|seat\s*connect|cupra\s*connect|` +
		`peugeot\s*connect|mycitro[eé]n|renault\s*(?:easy\s*connect|my\s*renault)|blue\s*link|porsche\s*car\s*connect|` +
		`we\s*connect(?:\s*go)?`)
	keylessLikeRe = regexp.MustCompile(`(?i)\b(keyless|relay\s*attack|replay\s*attack|roll\s*jam|can\s*injection)\b`)
	plantOrOpsRe  = regexp.MustCompile(`(?i)\b(planta|f[áa]brica|factor[ií]a|plant|factory|facility|assembly\s*line|producci[oó]n|operaciones?)\b`)
)

// Incident categories.
const (
	CategoryFactory    = "Factory/Plant"
	CategoryKeyless    = "Keyless/Relay"
	CategoryVehicle    = "Vehicle/Model"
	CategoryTelematics = "Telematics/Portal"
	CategoryPerception = "Perception Spoofing"
	CategoryCharger    = "Charger/EVSE"
	CategoryMobility   = "Mobility/Adjacent"
	CategoryOEM        = "Manufacturer/OEM"
	CategorySupplier   = "Supplier/Tier"
	CategoryInsider    = "Insider/Sabotage"
	CategoryGeneral    = "Auto/General"
)

// categoryRule assigns a category when its pattern matches; the first
// matching rule of categoryLadder wins.
type categoryRule struct {
	category     string
	re           *regexp.Regexp
	mobilityOnly bool
}

var categoryLadder = []categoryRule{
	{category: CategoryFactory, re: regexp.MustCompile(`(?i)\b(planta|f[áa]brica|factor[ií]a|plant|factory|facility|assembly\s*line)\b`)},
	{category: CategoryKeyless, re: regexp.MustCompile(`(?i)\b(keyless|relay\s*attack|roll\s*jam|rolljam|inhibidor|amplificador\s+de\s+se[nñ]al|clon(a|ado))\b`)},
	{category: CategoryVehicle, re: regexp.MustCompile(`(?i)\b(obd|ecu|can[-\s]*bus|controller\s*area\s*network|tcu|infotainment|head\s*unit|doip|some/ip)\b`)},
	{category: CategoryTelematics, re: regexp.MustCompile(`(?i)\b(onstar|uconnect|connected\s*drive|car[- ]?net|blue\s*link|ford\s*pass|mercedes\s*me|nissan\s*connect|starlink|portal|api|token|telematics)\b`)},
	{category: CategoryPerception, re: regexp.MustCompile(`(?i)\b(lidar|adas|phantom|gps\s*(spoof|jamm)|gnss\s*(spoof|jamm))\b`)},
	{category: CategoryCharger, re: regexp.MustCompile(`(?i)\b(evse|charger|wallbox|ocpp|rolec|chargepoint)\b`)},
	{
		category:     CategoryMobility,
		re:           regexp.MustCompile(`(?i)\b(rail|train|metro|ferrocarril|tranv[ií]a|parking|park[ií]metro|anpr|lpr|toll|peaje|vtc|ride[- ]?hailing|car\s*sharing)\b`),
		mobilityOnly: true,
	},
	{category: CategoryOEM, re: regexp.MustCompile(`(?i)\b(oem|automaker|carmaker|fabricante|marca)\b`)},
	{category: CategorySupplier, re: regexp.MustCompile(`(?i)\b(proveedor(a)?|supplier|tier\s*-?1|tier\s*-?2|concesionario|dealers?hip|dms)\b`)},
}

// signals are the derived flags the decision rules read.
type signals struct {
	matches     map[string][]string
	autoContext bool
	portalHit   bool
	remoteHit   bool
	brandTarget bool
	exploitLike bool
	keylessLike bool
	plantOrOps  bool
}

func (s *signals) has(bucket string) bool {
	_, ok := s.matches[bucket]
	return ok
}

func (s *signals) hasAny(buckets ...string) bool {
	for _, b := range buckets {
		if s.has(b) {
			return true
		}
	}

	return false
}

func (s *signals) autoEvidence() bool {
	return s.brandTarget || s.portalHit || s.remoteHit || s.exploitLike
}

// adjustment is a conditional score change with a fixed reason. Rules that
// share a non-empty group are exclusive: only the first applicable one fires.
type adjustment struct {
	group  string
	reason string
	when   func(s *signals) bool
	delta  func(f *IncidentFilter) int
}

func fixed(n int) func(*IncidentFilter) int {
	return func(*IncidentFilter) int { return n }
}

var overrideRules = []adjustment{
	{
		group:  negHypothetical,
		reason: "± override: hypothetical neutralized by confirmed incident",
		when: func(s *signals) bool {
			return s.has(negPrefix+negHypothetical) && s.hasAny(bucketAttackConfirmed, bucketRansomware, bucketDataTheft, bucketDisruption)
		},
		delta: func(f *IncidentFilter) int { return f.hypotheticalWeight() },
	},
	{
		group:  negHypothetical,
		reason: "± override: researchers/PoC + portal/remote/vuln + brand (hypothetical reduced to -2)",
		when: func(s *signals) bool {
			return s.has(negPrefix+negHypothetical) && s.brandTarget &&
				(s.portalHit || s.remoteHit || s.has(bucketVulnFound) || s.exploitLike)
		},
		delta: func(f *IncidentFilter) int { return f.hypotheticalWeight() - 2 },
	},
	{
		group:  negHypothetical,
		reason: "± override: hypothetical softened (-1) by automotive evidence",
		when: func(s *signals) bool {
			return s.has(negPrefix+negHypothetical) && s.autoEvidence()
		},
		delta: func(f *IncidentFilter) int { return f.hypotheticalWeight() - 1 },
	},
	{
		reason: "± override: routine_vuln neutralized by vuln_found+auto_context",
		when: func(s *signals) bool {
			return s.has(negPrefix+negRoutineVuln) && s.has(bucketVulnFound) && s.autoEvidence()
		},
		delta: func(f *IncidentFilter) int { return f.negativeWeight(negRoutineVuln) },
	},
}

var synergyRules = []adjustment{
	{
		reason: "+1 synergy portal+company",
		when:   func(s *signals) bool { return s.has(bucketPortalAbuse) && s.has(bucketCompany) },
		delta:  fixed(1),
	},
	{
		reason: "+2 synergy remote+brand/target",
		when:   func(s *signals) bool { return s.has(bucketRemoteControl) && s.hasAny(bucketCompany, bucketTargetsAuto) },
		delta:  fixed(2),
	},
	{
		reason: "+1 synergy vuln+brand/target/portal",
		when: func(s *signals) bool {
			return s.has(bucketVulnFound) && s.hasAny(bucketCompany, bucketTargetsAuto, bucketPortalAbuse)
		},
		delta: fixed(1),
	},
	{
		reason: "+1 synergy attack_confirmed+auto",
		when:   func(s *signals) bool { return s.has(bucketAttackConfirmed) && s.hasAny(bucketCompany, bucketTargetsAuto) },
		delta:  fixed(1),
	},
	{
		reason: "+1 synergy data_theft+auto",
		when:   func(s *signals) bool { return s.has(bucketDataTheft) && s.hasAny(bucketCompany, bucketTargetsAuto) },
		delta:  fixed(1),
	},
	{
		reason: "+1 synergy targets_auto+company",
		when:   func(s *signals) bool { return s.has(bucketTargetsAuto) && s.has(bucketCompany) },
		delta:  fixed(1),
	},
}

// thresholdRule lowers the keep threshold by relief, never below keepMinFloor.
type thresholdRule struct {
	relief int
	when   func(s *signals) bool
}

var thresholdRules = []thresholdRule{
	{relief: 2, when: func(s *signals) bool { return s.has(bucketDataTheft) && s.has(bucketCompany) }},
	{relief: 2, when: func(s *signals) bool { return s.has(bucketRansomware) && s.has(bucketCompany) }},
	{relief: 2, when: func(s *signals) bool {
		return s.hasAny(bucketRemoteControl, bucketPortalAbuse) && s.hasAny(bucketCompany, bucketTargetsAuto)
	}},
	{relief: 1, when: func(s *signals) bool { return s.keylessLike && s.hasAny(bucketCompany, bucketTargetsAuto) }},
}

// strongSignal reports whether the evidence describes a real operational event.
func strongSignal(s *signals) bool {
	vulnStrong := s.hasAny(bucketVulnFound, bucketDataTheft) &&
		(s.autoContext || s.hasAny(bucketCompany, bucketTargetsAuto, bucketPortalAbuse))

	return s.hasAny(bucketAttackConfirmed, bucketRansomware) ||
		(s.has(bucketDisruption) && s.autoContext && s.plantOrOps) ||
		((s.portalHit || s.remoteHit) && s.autoContext) ||
		vulnStrong ||
		(s.keylessLike && s.brandTarget)
}
