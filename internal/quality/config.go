package quality

// Config 质量过滤配置
type Config struct {
	// 文档过滤
	MinDocumentLength       int     // 文档最小字符数（含）
	MaxDocumentLength       int     // 文档最大字符数（含）
	MinDocumentQualityScore float64 // 文档最低质量分

	// 分块过滤
	MinChunkLength       int     // 分块最小字符数
	MaxChunkLength       int     // 分块最大字符数
	MinChunkQualityScore float64 // 分块最低质量分
	MinEmbeddingNorm     float64 // 最小向量范数

	// 去重
	SimilarityThreshold      float64 // 相似度达到该值视为重复
	EnableDuplicateDetection bool    // 是否启用去重
	MaxFeatures              int     // TF-IDF最大特征数
	LSHMinItems              int     // 超过该数量时使用LSH生成候选对
	LSHBands                 int     // LSH分段数
	LSHRows                  int     // 每段超平面数
	LSHSeed                  int64   // 超平面随机种子

	LowQualityPatterns []string // 低质量文本模式（正则，大小写不敏感）
	AcademicIndicators []string // 学术性指示词
}

// DefaultConfig 返回默认过滤配置
func DefaultConfig() Config {
	return Config{
		MinDocumentLength:       200,
		MaxDocumentLength:       50000,
		MinDocumentQualityScore: 0.3,

		MinChunkLength:       100,
		MaxChunkLength:       2000,
		MinChunkQualityScore: 0.4,
		MinEmbeddingNorm:     0.1,

		SimilarityThreshold:      0.95,
		EnableDuplicateDetection: true,
		MaxFeatures:              1000,
		LSHMinItems:              256,
		LSHBands:                 16,
		LSHRows:                  8,
		LSHSeed:                  42,

		LowQualityPatterns: []string{
			`404 not found`,
			`page not found`,
			`access denied`,
			`login required`,
			`javascript required`,
			`error \d+`,
			`forbidden`,
			`unauthorized`,
		},
		AcademicIndicators: []string{
			"abstract", "introduction", "methodology", "conclusion",
			"references", "doi:", "issn:", "journal", "university",
			"research", "study", "analysis", "experiment",
		},
	}
}
