package constants

// Redis Key 前缀和格式常量
const (
	// ResumeKeyPrefix 简历记录键前缀，与前端约定保持一致
	ResumeKeyPrefix = "resume:"

	// KeyResumeRecord 简历记录 (STRING, JSON)
	// 格式: resume:{id}
	KeyResumeRecord = ResumeKeyPrefix + "%s"

	// KeyResumeRecordPattern 用于 SCAN 列举所有简历记录
	KeyResumeRecordPattern = ResumeKeyPrefix + "*"

	// AppPrefix 内部使用键的统一应用前缀
	AppPrefix = "app"
	// PipelineModulePrefix 分析流水线模块
	PipelineModulePrefix = "pipeline"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyPipelineRunLock 会话级运行锁 (STRING)
	// 格式: app:pipeline:lock:{sessionID}
	KeyPipelineRunLock = AppPrefix + ":" + PipelineModulePrefix + ":" + EntityLock + ":%s"
)
