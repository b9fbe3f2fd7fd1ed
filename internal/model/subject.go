package model

// Subject 学科表，对应 subjects
type Subject struct {
	ID   uint    `gorm:"primaryKey"                 json:"id"`
	Name string  `gorm:"type:varchar(255);not null" json:"name"`
	Code *string `gorm:"type:varchar(50)"           json:"code,omitempty"`
	BaseModel

	// 关联
	Staff []Staff `gorm:"many2many:subject_staff;joinForeignKey:SubjectID;joinReferences:StaffID" json:"staff,omitempty"`
}

// TableName 指定表名
func (Subject) TableName() string { return "subjects" }

// SubjectStaff 教职工-学科关联表，对应 subject_staff
// 行存在即表示分配关系成立，(staff_id, subject_id) 为联合主键
type SubjectStaff struct {
	StaffID   uint `gorm:"primaryKey;autoIncrement:false" json:"staff_id"`
	SubjectID uint `gorm:"primaryKey;autoIncrement:false" json:"subject_id"`
	BaseModel
}

// TableName 指定表名
func (SubjectStaff) TableName() string { return "subject_staff" }
