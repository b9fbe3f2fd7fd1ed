package model

// Staff 教职工表，对应 staff
type Staff struct {
	ID       uint    `gorm:"primaryKey"                    json:"id"`
	UserID   *uint   `                                     json:"user_id,omitempty"`
	Name     string  `gorm:"type:varchar(255);not null"    json:"name"`
	Slug     string  `gorm:"type:varchar(255);uniqueIndex" json:"slug"`
	Position string  `gorm:"type:varchar(255);not null"    json:"position"`
	Division string  `gorm:"type:varchar(255);not null"    json:"division"`
	Email    *string `gorm:"type:varchar(255)"             json:"email,omitempty"`
	Phone    *string `gorm:"type:varchar(50)"              json:"phone,omitempty"`
	// AssignmentVersion 学科分配集合的版本号，每次实际变更后 +1
	AssignmentVersion int `gorm:"not null;default:1" json:"assignment_version"`
	BaseModel

	// 关联
	Subjects []Subject `gorm:"many2many:subject_staff;joinForeignKey:StaffID;joinReferences:SubjectID" json:"subjects,omitempty"`
}

// TableName 指定表名
func (Staff) TableName() string { return "staff" }
