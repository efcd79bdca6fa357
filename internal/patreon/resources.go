package patreon

// Patreon speaks JSON:API. Only the attributes and relationships read by the
// client are decoded.

type resourceID struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type toOne struct {
	Data *resourceID `json:"data"`
}

type toMany struct {
	Data []resourceID `json:"data"`
}

type resource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		PatronStatus *string `json:"patron_status"`
		PatronCount  int     `json:"patron_count"`
	} `json:"attributes"`
	Relationships struct {
		Campaign               toOne  `json:"campaign"`
		User                   toOne  `json:"user"`
		Tiers                  toMany `json:"tiers"`
		CurrentlyEntitledTiers toMany `json:"currently_entitled_tiers"`
	} `json:"relationships"`
}

type identityDocument struct {
	Data     resource   `json:"data"`
	Included []resource `json:"included"`
}

type campaignDocument struct {
	Data     []resource `json:"data"`
	Included []resource `json:"included"`
}

type memberDocument struct {
	Data     resource   `json:"data"`
	Included []resource `json:"included"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// Pledge is a membership of a user in a campaign.
type Pledge struct {
	Active     bool     `json:"active"`
	UserID     string   `json:"user_id"`
	CampaignID string   `json:"campaign_id"`
	TierIDs    []string `json:"tier_ids"`
}

// HasTier reports whether the pledge is entitled to the tier.
func (p Pledge) HasTier(tierID string) bool {
	for _, id := range p.TierIDs {
		if id == tierID {
			return true
		}
	}

	return false
}

// Identity is a funding provider user and their memberships.
type Identity struct {
	UserID  string   `json:"user_id"`
	Pledges []Pledge `json:"pledges"`
}

// Tier is a reward tier of a campaign.
type Tier struct {
	ID          string `json:"id"`
	PatronCount int    `json:"patron_count"`
}

// Campaign is a creator campaign with its tiers.
type Campaign struct {
	ID    string `json:"id"`
	Tiers []Tier `json:"tiers"`
}

// pledgeFromMember converts a member resource. The user id falls back to
// the given owner when the relationship is not included.
func pledgeFromMember(member resource, ownerID string) Pledge {
	pledge := Pledge{
		Active: member.Attributes.PatronStatus != nil && *member.Attributes.PatronStatus == "active_patron",
		UserID: ownerID,
	}

	if member.Relationships.User.Data != nil {
		pledge.UserID = member.Relationships.User.Data.ID
	}

	if member.Relationships.Campaign.Data != nil {
		pledge.CampaignID = member.Relationships.Campaign.Data.ID
	}

	for _, tier := range member.Relationships.CurrentlyEntitledTiers.Data {
		pledge.TierIDs = append(pledge.TierIDs, tier.ID)
	}

	return pledge
}
