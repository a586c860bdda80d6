package models

// Company is the tenant boundary. Every user belongs to exactly one company.
type Company struct {
	BaseModel
	Name     string `json:"name" gorm:"type:varchar(255);not null"`
	Domain   string `json:"domain" gorm:"type:varchar(255);uniqueIndex;not null"`
	IsActive bool   `json:"isActive" gorm:"not null;default:true"`
	Users    []User `json:"-" gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
}
